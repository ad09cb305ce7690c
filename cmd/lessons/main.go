// Command lessons walks through the client's capabilities one lesson at
// a time: basic conversation, tool autonomy, multi-turn context, error
// handling, observability, and the production pattern. Run a single
// lesson with -lesson N or all of them in sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"foundry/pkg/agent"
	"foundry/pkg/client"
	"foundry/pkg/clienterrors"
	"foundry/pkg/config"
	"foundry/pkg/metrics"
	"foundry/pkg/persistence"
	"foundry/pkg/tools"
)

type lesson struct {
	title string
	run   func(ctx context.Context, cfg *config.Config) error
}

var lessons = []lesson{
	{"Basic Conversation", lessonBasicConversation},
	{"Tool Usage (Agent Autonomy)", lessonToolUsage},
	{"Multi-Turn Conversation (Context)", lessonMultiTurn},
	{"Error Handling & Resilience", lessonErrorHandling},
	{"Observability & Metrics", lessonObservability},
	{"Production Pattern", lessonProductionPattern},
}

func main() {
	var configPath string
	var number int
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.IntVar(&number, "lesson", 0, "Lesson number to run (0 runs all)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if number != 0 {
		if number < 1 || number > len(lessons) {
			log.Fatalf("Invalid lesson number %d, choose 1-%d", number, len(lessons))
		}
		runLesson(ctx, cfg, number)
		return
	}

	for i := range lessons {
		runLesson(ctx, cfg, i+1)
		if ctx.Err() != nil {
			return
		}
	}
	banner("Lessons complete!")
}

func runLesson(ctx context.Context, cfg *config.Config, number int) {
	l := lessons[number-1]
	banner(fmt.Sprintf("LESSON %d: %s", number, l.title))
	if err := l.run(ctx, cfg); err != nil {
		log.Printf("Lesson %d failed: %v", number, err)
	}
}

func banner(title string) {
	line := strings.Repeat("=", 60)
	fmt.Printf("\n%s\n%s\n%s\n\n", line, title, line)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// withAgent opens a session, provisions an assistant over the builtin
// tools, runs fn, and tears everything down again.
func withAgent(ctx context.Context, cfg *config.Config, name string, fn func(ctx context.Context, a *agent.Agent) error, opts ...agent.Option) error {
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		return err
	}

	cl, err := client.New(cfg)
	if err != nil {
		return err
	}

	return cl.WithSession(ctx, func(ctx context.Context, s *client.Session) error {
		a, err := agent.New(s, cfg, registry, append([]agent.Option{agent.WithName(name)}, opts...)...)
		if err != nil {
			return err
		}
		if err := a.Create(ctx); err != nil {
			return err
		}
		defer func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := a.Cleanup(cleanupCtx); err != nil {
				log.Printf("Cleanup failed: %v", err)
			}
		}()
		return fn(ctx, a)
	})
}

// Lesson 1: create an agent, hold one exchange, clean up.
func lessonBasicConversation(ctx context.Context, cfg *config.Config) error {
	return withAgent(ctx, cfg, "example-basic-agent", func(ctx context.Context, a *agent.Agent) error {
		fmt.Println("✅ Agent created")

		threadID, err := a.NewThread(ctx, map[string]string{"example": "basic_conversation"})
		if err != nil {
			return err
		}
		fmt.Printf("✅ Thread created: %s\n\n", threadID)

		question := "Hello! Can you introduce yourself?"
		if _, err := a.AddMessage(ctx, threadID, question); err != nil {
			return err
		}
		fmt.Printf("📤 Sent: %s\n\n", question)

		res, err := a.Run(ctx, threadID)
		if err != nil {
			return err
		}
		fmt.Printf("📥 Response: %s\n\n", res.Response)
		fmt.Printf("⏱  Duration: %s\n", res.Duration.Round(10*time.Millisecond))
		fmt.Printf("🎫 Tokens used: %d\n", res.TokensUsed)
		return nil
	})
}

// Lesson 2: the agent decides on its own when a tool is needed.
func lessonToolUsage(ctx context.Context, cfg *config.Config) error {
	return withAgent(ctx, cfg, "tool-demo-agent", func(ctx context.Context, a *agent.Agent) error {
		threadID, err := a.NewThread(ctx, map[string]string{"example": "tool_usage"})
		if err != nil {
			return err
		}

		query := "What is the estimated monthly cost for a standard tier VM running 24/7?"
		fmt.Printf("📤 Query: %s\n\n", query)
		if _, err := a.AddMessage(ctx, threadID, query); err != nil {
			return err
		}

		fmt.Println("🤖 Agent is thinking and calling tools...")
		res, err := a.Run(ctx, threadID)
		if err != nil {
			return err
		}

		fmt.Printf("\n📥 Response: %s\n\n", res.Response)
		fmt.Printf("🔧 Tool calls made: %d\n", res.ToolCalls)
		fmt.Printf("⏱  Duration: %s\n", res.Duration.Round(10*time.Millisecond))
		return nil
	})
}

// Lesson 3: threads carry context, so follow-up questions work.
func lessonMultiTurn(ctx context.Context, cfg *config.Config) error {
	return withAgent(ctx, cfg, "context-demo-agent", func(ctx context.Context, a *agent.Agent) error {
		threadID, err := a.NewThread(ctx, map[string]string{"example": "multi_turn"})
		if err != nil {
			return err
		}

		turns := []string{
			"Look up customer information for customer ID 'CUST-001'",
			"What was their tier?",
			"Create a support ticket for them about a billing issue",
		}
		for i, message := range turns {
			fmt.Printf("\n--- Turn %d ---\n", i+1)
			fmt.Printf("📤 User: %s\n", message)

			if _, err := a.AddMessage(ctx, threadID, message); err != nil {
				return err
			}
			res, err := a.Run(ctx, threadID)
			if err != nil {
				return err
			}
			fmt.Printf("📥 Agent: %s\n", res.Response)
		}

		if conv, ok := a.Conversation(threadID); ok {
			fmt.Printf("\n--- Conversation Stats ---\n")
			fmt.Printf("Total messages: %d\n", conv.Len())
			fmt.Printf("Started: %s\n", conv.CreatedAt.Format(time.RFC3339))
		}
		return nil
	})
}

// Lesson 4: failures surface as typed errors or graceful answers, and
// metrics keep counting either way.
func lessonErrorHandling(ctx context.Context, cfg *config.Config) error {
	return withAgent(ctx, cfg, "resilient-agent", func(ctx context.Context, a *agent.Agent) error {
		threadID, err := a.NewThread(ctx, nil)
		if err != nil {
			return err
		}

		fmt.Println("Test 1: invalid tool input is reported, not fatal")
		if _, err := a.AddMessage(ctx, threadID, "Calculate cost for a mainframe resource type"); err != nil {
			return err
		}
		if res, err := a.Run(ctx, threadID); err != nil {
			fmt.Printf("❌ Error surfaced: %v\n\n", err)
		} else {
			fmt.Printf("✅ Handled gracefully: %s\n\n", clip(res.Response, 100))
		}

		fmt.Println("Test 2: oversized messages are rejected before any network call")
		oversized := strings.Repeat("budget overrun ", cfg.MaxTokensPerRequest)
		if _, err := a.AddMessage(ctx, threadID, oversized); clienterrors.Is(err, clienterrors.ErrorTypeBadRequest) {
			fmt.Printf("✅ Typed rejection: %v\n\n", err)
		} else {
			fmt.Printf("❌ Expected a bad-request rejection, got: %v\n\n", err)
		}

		snap := a.Metrics().Snapshot()
		fmt.Println("--- Agent Metrics ---")
		fmt.Printf("Success rate: %.1f%%\n", snap.SuccessRate*100)
		fmt.Printf("Total runs: %d\n", snap.TotalRuns)
		return nil
	})
}

// Lesson 5: in-process counters for this client, Prometheus for the
// cross-process view.
func lessonObservability(ctx context.Context, cfg *config.Config) error {
	return withAgent(ctx, cfg, "monitored-agent", func(ctx context.Context, a *agent.Agent) error {
		queries := []string{
			"What is your purpose?",
			"Calculate cost for a basic VM",
			"Look up customer CUST-123",
		}
		for _, q := range queries {
			threadID, err := a.NewThread(ctx, nil)
			if err != nil {
				return err
			}
			if _, err := a.AddMessage(ctx, threadID, q); err != nil {
				return err
			}
			if _, err := a.Run(ctx, threadID); err != nil {
				log.Printf("Run failed: %v", err)
			}
		}

		snap := a.Metrics().Snapshot()
		fmt.Println("\n--- Performance Metrics ---")
		fmt.Printf("Total runs: %d\n", snap.TotalRuns)
		fmt.Printf("Success rate: %.1f%%\n", snap.SuccessRate*100)
		fmt.Printf("Average response time: %s\n", snap.AvgDuration.Round(10*time.Millisecond))
		fmt.Printf("Total tokens used: %d\n", snap.TotalTokens)
		fmt.Printf("Tool calls made: %d\n", snap.ToolCalls)

		// Rough spend estimate for capacity planning.
		estimated := float64(snap.TotalTokens) / 1000 * 0.02
		fmt.Printf("Estimated cost: $%.4f\n", estimated)

		if cfg.PrometheusURL != "" {
			svc, err := metrics.NewQueryService(cfg.PrometheusURL)
			if err != nil {
				return err
			}
			usage, err := svc.GetRunUsage(ctx, cfg.ModelDeployment)
			if err != nil {
				log.Printf("Prometheus query failed: %v", err)
			} else {
				fmt.Printf("\nAggregated by Prometheus: %d runs, %d tokens across all processes\n",
					usage.TotalRuns, usage.TotalTokens)
			}
		}
		return nil
	})
}

const productionInstructions = `You are a customer support agent.

Your role is to:
- Answer questions about Azure services
- Help with cost estimates
- Create support tickets for issues
- Provide excellent customer service

Always be professional, accurate, and helpful.`

// Lesson 6: one long-lived agent, a thread per customer, an audit trail
// of every run.
func lessonProductionPattern(ctx context.Context, cfg *config.Config) error {
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		return err
	}

	cl, err := client.New(cfg)
	if err != nil {
		return err
	}

	return cl.WithSession(ctx, func(ctx context.Context, s *client.Session) error {
		store, err := persistence.Open(cfg.AuditDBPath, s.ID())
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("Failed to close audit store: %v", err)
			}
		}()

		a, err := agent.New(s, cfg, registry,
			agent.WithName("production-agent"),
			agent.WithInstructions(productionInstructions),
			agent.WithStore(store),
		)
		if err != nil {
			return err
		}
		if err := a.Create(ctx); err != nil {
			return err
		}
		defer func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := a.Cleanup(cleanupCtx); err != nil {
				log.Printf("Cleanup failed: %v", err)
			}
		}()
		fmt.Println("✅ Production agent initialized")

		sessions := []struct {
			customerID string
			messages   []string
		}{
			{"CUST-001", []string{"Hi, I need help with Azure costs"}},
			{"CUST-002", []string{"Can you look up my account?"}},
		}

		for _, cs := range sessions {
			threadID, err := a.NewThread(ctx, map[string]string{"customer_id": cs.customerID})
			if err != nil {
				return err
			}
			fmt.Printf("\n🔷 Session for %s\n", cs.customerID)

			for _, message := range cs.messages {
				if _, err := a.AddMessage(ctx, threadID, message); err != nil {
					return err
				}
				res, err := a.Run(ctx, threadID)
				if err != nil {
					return err
				}
				fmt.Printf("  Agent: %s\n", clip(res.Response, 80))
			}
			fmt.Println("  ✅ Session complete")
		}

		runs, err := store.RecentRuns(10)
		if err != nil {
			return err
		}
		snap := a.Metrics().Snapshot()
		fmt.Printf("\n--- Production Metrics ---\n")
		fmt.Printf("Runs: %d (%.0f%% ok), tokens: %d, audited runs: %d\n",
			snap.TotalRuns, snap.SuccessRate*100, snap.TotalTokens, len(runs))
		return nil
	})
}
