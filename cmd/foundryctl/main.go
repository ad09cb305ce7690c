// Command foundryctl manages the encrypted secrets store, inspects the
// audit database, and reports platform usage from Prometheus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"golang.org/x/term"

	"foundry/pkg/config"
	"foundry/pkg/metrics"
	"foundry/pkg/persistence"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "secrets":
		err = runSecrets(os.Args[2:])
	case "config":
		err = runConfig(os.Args[2:])
	case "audit":
		err = runAudit(os.Args[2:])
	case "usage":
		err = runUsage(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "foundryctl - Secrets and usage tooling\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  %s secrets init [--dir <dir>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s secrets set <NAME> [--dir <dir>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s secrets get <NAME> [--dir <dir>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s secrets list [--dir <dir>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s secrets rm <NAME> [--dir <dir>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s config [--config <file>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s audit runs [--db <file>] [--limit <n>] [--session <id>] [--tools]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s audit events [--db <file>] [--limit <n>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s usage [--config <file>] [--prometheus <url>] [--deployment <name>]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  secrets  - Manage the encrypted secrets store (e.g. AZURE_CLIENT_SECRET)\n")
	fmt.Fprintf(os.Stderr, "  config   - Print the resolved configuration with secrets masked\n")
	fmt.Fprintf(os.Stderr, "  audit    - Inspect recorded runs, tool calls, and audit events\n")
	fmt.Fprintf(os.Stderr, "  usage    - Report run and tool usage aggregated by Prometheus\n\n")
	fmt.Fprintf(os.Stderr, "The passphrase is prompted without echo, or read from\n")
	fmt.Fprintf(os.Stderr, "FOUNDRY_SECRETS_PASSPHRASE for non-interactive use.\n")
}

func runSecrets(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("secrets requires an action: init, set, get, list, rm")
	}
	action := args[0]

	var name string
	var flagArgs []string
	switch action {
	case "init", "list":
		flagArgs = args[1:]
	case "set", "get", "rm":
		if len(args) < 2 {
			return fmt.Errorf("secrets %s requires a secret name", action)
		}
		name = args[1]
		flagArgs = args[2:]
	default:
		return fmt.Errorf("unknown secrets action %q, must be init, set, get, list, or rm", action)
	}

	flagSet := flag.NewFlagSet("secrets", flag.ExitOnError)
	dir := flagSet.String("dir", ".", "Directory holding the secrets file")
	if err := flagSet.Parse(flagArgs); err != nil {
		return err
	}

	switch action {
	case "init":
		return secretsInit(*dir)
	case "set":
		return secretsSet(*dir, name)
	case "get":
		return secretsGet(*dir, name)
	case "list":
		return secretsList(*dir)
	case "rm":
		return secretsRemove(*dir, name)
	}
	return nil
}

func secretsInit(dir string) error {
	if config.SecretsFileExists(dir) {
		return fmt.Errorf("secrets store already exists in %s", dir)
	}
	pass, err := readPassphrase(true)
	if err != nil {
		return err
	}
	if err := config.EncryptSecretsFile(dir, pass, map[string]string{}); err != nil {
		return err
	}
	fmt.Printf("Secrets store created in %s\n", dir)
	return nil
}

func secretsSet(dir, name string) error {
	exists := config.SecretsFileExists(dir)
	pass, err := readPassphrase(!exists)
	if err != nil {
		return err
	}
	if exists {
		if err := config.LoadSecretsFromFile(dir, pass); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "Value for %s: ", name)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read value: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("value must not be empty")
	}

	config.SetSecret(name, string(raw))
	if err := config.SaveSecretsToFile(dir, pass); err != nil {
		return err
	}
	fmt.Printf("Secret %s stored\n", name)
	return nil
}

func secretsGet(dir, name string) error {
	pass, err := readPassphrase(false)
	if err != nil {
		return err
	}
	if err := config.LoadSecretsFromFile(dir, pass); err != nil {
		return err
	}
	value, err := config.GetSecret(name)
	if err != nil {
		return err
	}
	// Value goes to stdout so it can be piped; everything else is stderr.
	fmt.Println(value)
	return nil
}

func secretsList(dir string) error {
	pass, err := readPassphrase(false)
	if err != nil {
		return err
	}
	if err := config.LoadSecretsFromFile(dir, pass); err != nil {
		return err
	}
	names := config.GetDecryptedSecretNames()
	if len(names) == 0 {
		fmt.Fprintln(os.Stderr, "No secrets stored")
		return nil
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func secretsRemove(dir, name string) error {
	pass, err := readPassphrase(false)
	if err != nil {
		return err
	}
	if err := config.LoadSecretsFromFile(dir, pass); err != nil {
		return err
	}
	if _, err := config.GetSecret(name); err != nil {
		return err
	}
	config.DeleteSecret(name)
	if err := config.SaveSecretsToFile(dir, pass); err != nil {
		return err
	}
	fmt.Printf("Secret %s removed\n", name)
	return nil
}

// readPassphrase reads the store passphrase without echo, preferring the
// environment for scripted use.
func readPassphrase(confirm bool) (string, error) {
	if pass := os.Getenv("FOUNDRY_SECRETS_PASSPHRASE"); pass != "" {
		return pass, nil
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		again, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", err)
		}
		if string(raw) != string(again) {
			return "", fmt.Errorf("passphrases do not match")
		}
	}
	return string(raw), nil
}

func runConfig(args []string) error {
	flagSet := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := flagSet.String("config", "", "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	fmt.Println(cfg.String())
	return nil
}

func runAudit(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("audit requires an action: runs, events")
	}
	action := args[0]
	if action != "runs" && action != "events" {
		return fmt.Errorf("unknown audit action %q, must be runs or events", action)
	}

	flagSet := flag.NewFlagSet("audit", flag.ExitOnError)
	dbPath := flagSet.String("db", config.DefaultAuditDBPath, "Path to the audit database")
	limit := flagSet.Int("limit", 20, "Maximum rows to show")
	session := flagSet.String("session", "", "Show one session's runs oldest-first instead of the newest overall")
	showTools := flagSet.Bool("tools", false, "Show tool calls under each run")
	if err := flagSet.Parse(args[1:]); err != nil {
		return err
	}

	store, err := persistence.Open(*dbPath, "foundryctl")
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	if action == "events" {
		return auditEvents(store, *limit)
	}
	return auditRuns(store, *limit, *session, *showTools)
}

func auditRuns(store *persistence.Store, limit int, session string, showTools bool) error {
	var runs []persistence.RunRecord
	var err error
	if session != "" {
		runs, err = store.RunsForSession(session)
	} else {
		runs, err = store.RecentRuns(limit)
	}
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	for _, run := range runs {
		fmt.Printf("%s  %-10s  run=%s thread=%s  %d tools  %d tokens  %s\n",
			run.CreatedAt.Format(time.RFC3339), run.Status, run.RunID, run.ThreadID,
			run.ToolCalls, run.TotalTokens, run.Duration.Round(time.Millisecond))
		if run.Error != "" {
			fmt.Printf("    error: %s\n", run.Error)
		}
		if !showTools {
			continue
		}
		calls, err := store.ToolCallsForRun(run.ID)
		if err != nil {
			return err
		}
		for _, call := range calls {
			fmt.Printf("    %-24s %-16s %s\n", call.Tool, call.Outcome, call.Duration.Round(time.Millisecond))
		}
	}
	return nil
}

func auditEvents(store *persistence.Store, limit int) error {
	events, err := store.RecentEvents(limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events recorded")
		return nil
	}
	for _, ev := range events {
		fmt.Printf("%s  %-8s %-20s %s\n",
			ev.CreatedAt.Format(time.RFC3339), ev.Actor, ev.Action, ev.Detail)
	}
	return nil
}

func runUsage(args []string) error {
	flagSet := flag.NewFlagSet("usage", flag.ExitOnError)
	configPath := flagSet.String("config", "", "Path to config file")
	promURL := flagSet.String("prometheus", "", "Prometheus base URL (default: prometheus_url from config)")
	deployment := flagSet.String("deployment", "", "Model deployment to report on (default: model_deployment from config)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	url, dep := *promURL, *deployment
	if url == "" || dep == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("failed to load config (pass --prometheus and --deployment to skip it): %w", err)
		}
		if url == "" {
			url = cfg.PrometheusURL
		}
		if dep == "" {
			dep = cfg.ModelDeployment
		}
	}
	if url == "" {
		return fmt.Errorf("no Prometheus URL configured; set prometheus_url or pass --prometheus")
	}

	svc, err := metrics.NewQueryService(url)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs, err := svc.GetRunUsage(ctx, dep)
	if err != nil {
		return err
	}
	fmt.Printf("Deployment %s\n", runs.Deployment)
	fmt.Printf("  Runs:   %d total, %d successful\n", runs.TotalRuns, runs.SuccessfulRuns)
	fmt.Printf("  Tokens: %d prompt + %d completion = %d\n",
		runs.PromptTokens, runs.CompletionTokens, runs.TotalTokens)

	toolUsage, err := svc.GetToolUsage(ctx)
	if err != nil {
		return err
	}
	if len(toolUsage) == 0 {
		fmt.Println("  Tools:  no dispatches recorded")
		return nil
	}

	names := make([]string, 0, len(toolUsage))
	for name := range toolUsage {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Tools:")
	for _, name := range names {
		u := toolUsage[name]
		fmt.Printf("  %-24s %d dispatches, %d successful\n", u.Tool, u.Dispatches, u.Successes)
	}
	return nil
}
