// Command foundry is an interactive console over the agent platform:
// it opens a session, provisions an assistant with the builtin tools,
// and relays messages on a single thread until interrupted.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"foundry/pkg/agent"
	"foundry/pkg/client"
	"foundry/pkg/config"
	"foundry/pkg/logx"
	"foundry/pkg/metrics"
	"foundry/pkg/persistence"
	"foundry/pkg/tools"
	"foundry/pkg/version"
)

func main() {
	var configPath string
	var agentName string
	var prompt string
	var showVersion bool
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&agentName, "name", "", "Override the assistant display name")
	flag.StringVar(&prompt, "prompt", "", "Run a single prompt and exit instead of the interactive console")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("foundry %s (%s, built %s)\n", version.Version, version.Commit, version.Date)
		return
	}

	// Use FOUNDRY_CONFIG env var if flag not provided
	if configPath == "" {
		configPath = os.Getenv("FOUNDRY_CONFIG")
	}

	// An unlocked secrets store can carry the service principal secret so
	// it never has to live in the shell environment.
	if pass := os.Getenv("FOUNDRY_SECRETS_PASSPHRASE"); pass != "" && config.SecretsFileExists(".") {
		if err := config.LoadSecretsFromFile(".", pass); err != nil {
			log.Fatalf("Failed to unlock secrets store: %v", err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if strings.EqualFold(cfg.LogLevel, "debug") {
		logx.SetDebug(true)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	console := NewConsole(cfg, agentName)
	if err := console.Run(ctx, prompt); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Console failed: %v", err)
	}
}

// Console wires the session client, tool registry, and agent into an
// interactive loop.
type Console struct {
	cfg      *config.Config
	name     string
	registry *tools.Registry
	recorder metrics.Recorder
	logger   *logx.Logger
}

func NewConsole(cfg *config.Config, name string) *Console {
	return &Console{
		cfg:      cfg,
		name:     name,
		recorder: metrics.Nop(),
		logger:   logx.NewLogger("console"),
	}
}

// Run builds the stack and holds the session for the whole console
// lifetime. The session is closed on every exit path.
func (c *Console) Run(ctx context.Context, prompt string) error {
	if c.cfg.MetricsAddr != "" {
		c.recorder = metrics.NewPrometheusRecorder()
		stopMetrics := c.serveMetrics()
		defer stopMetrics()
	}

	registry := tools.NewRegistry(tools.WithRecorder(c.recorder))
	if err := tools.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}
	c.registry = registry

	cl, err := client.New(c.cfg, client.WithRecorder(c.recorder))
	if err != nil {
		return err
	}

	return cl.WithSession(ctx, func(ctx context.Context, s *client.Session) error {
		return c.session(ctx, s, prompt)
	})
}

func (c *Console) session(ctx context.Context, s *client.Session, prompt string) error {
	var store *persistence.Store
	if c.cfg.EnableAuditLog {
		var err error
		store, err = persistence.Open(c.cfg.AuditDBPath, s.ID())
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				c.logger.Error("Failed to close audit store: %v", err)
			}
		}()
	}

	opts := []agent.Option{agent.WithRecorder(c.recorder)}
	if c.name != "" {
		opts = append(opts, agent.WithName(c.name))
	}
	if store != nil {
		opts = append(opts, agent.WithStore(store))
	}

	a, err := agent.New(s, c.cfg, c.registry, opts...)
	if err != nil {
		return err
	}

	if err := a.Create(ctx); err != nil {
		return err
	}
	defer func() {
		// The loop context may already be cancelled; cleanup gets its own.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.Cleanup(cleanupCtx); err != nil {
			c.logger.Warn("Assistant cleanup failed: %v", err)
		}
	}()

	threadID, err := a.NewThread(ctx, nil)
	if err != nil {
		return err
	}

	fmt.Printf("🤖 Assistant ready on %s with %d tools. Type a message, 'exit' to quit.\n\n",
		c.cfg.ModelDeployment, c.registry.Len())

	if prompt != "" {
		return c.exchange(ctx, a, threadID, prompt)
	}

	defer c.printSummary(a)
	lines := readLines()
	for {
		fmt.Print("you> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			c.logger.Info("Interrupt received, shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "exit", "quit":
				return nil
			case "/tools":
				for _, name := range c.registry.Names() {
					fmt.Printf("  %s\n", name)
				}
				continue
			case "/metrics":
				c.printSummary(a)
				continue
			}
			if err := c.exchange(ctx, a, threadID, line); err != nil {
				if ctx.Err() != nil {
					fmt.Println()
					return nil
				}
				fmt.Printf("error: %v\n", err)
			}
		}
	}
}

func (c *Console) exchange(ctx context.Context, a *agent.Agent, threadID, content string) error {
	if _, err := a.AddMessage(ctx, threadID, content); err != nil {
		return err
	}
	res, err := a.Run(ctx, threadID)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s\n\n", res.Response)
	if res.ToolCalls > 0 {
		fmt.Printf("(%d tool calls, %d tokens, %s)\n",
			res.ToolCalls, res.TokensUsed, res.Duration.Round(time.Millisecond))
	}
	return nil
}

func (c *Console) printSummary(a *agent.Agent) {
	snap := a.Metrics().Snapshot()
	if snap.TotalRuns == 0 {
		return
	}
	fmt.Printf("\nSession summary: %d runs (%.0f%% ok), %d tokens, %d tool calls, avg %s\n",
		snap.TotalRuns, snap.SuccessRate*100, snap.TotalTokens, snap.ToolCalls,
		snap.AvgDuration.Round(time.Millisecond))
}

// serveMetrics exposes the Prometheus endpoint and returns a stopper.
func (c *Console) serveMetrics() func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              c.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		c.logger.Info("Metrics listening on %s", c.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Metrics server: %v", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

// readLines pumps stdin lines into a channel so the console can select
// between input and cancellation.
func readLines() <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
