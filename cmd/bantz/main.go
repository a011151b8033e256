package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bantz-ai/bantz/internal/application"
	"github.com/bantz-ai/bantz/internal/infrastructure/config"
	"github.com/bantz-ai/bantz/internal/infrastructure/logger"
)

const (
	cliVersion = "0.1.0"
	cliName    = "bantz"
)

// Exit codes per the CLI surface's contract: 0 ok, 1 usage error, 2 runtime
// error.
const (
	exitOK         = 0
	exitUsageError = 1
	exitRuntimeErr = 2
)

func main() {
	rootCmd := &cobra.Command{
		Use:          cliName,
		Short:        "Bantz — Turkish-first voice assistant turn runtime",
		Args:         cobra.NoArgs,
		RunE:         runInteractive,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newGraphCmd())
	rootCmd.AddCommand(newRemindersCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "check that a global config, policy file and database are reachable",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		if _, ok := err.(usageError); ok {
			os.Exit(exitUsageError)
		}
		os.Exit(exitRuntimeErr)
	}
}

// usageError marks a failure as the caller's fault (bad flags/args) rather
// than a runtime failure, so main can pick the right exit code.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func newUsageError(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// buildRuntime loads config, builds a quiet logger and assembles a Runtime.
// Callers must Close it.
func buildRuntime() (*application.Runtime, *zap.Logger, error) {
	log, err := logger.NewLogger(logger.Config{Level: "error", Format: "console", OutputPath: "stderr"})
	if err != nil {
		return nil, nil, fmt.Errorf("logger init: %w", err)
	}

	if err := config.Bootstrap(log); err != nil {
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	rt, err := application.NewRuntime(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("runtime init: %w", err)
	}
	return rt, log, nil
}

// runInteractive reads lines from stdin as turns for a single local
// session, printing each response. Manual testing surface only — voice
// input/output is an external collaborator.
func runInteractive(cmd *cobra.Command, args []string) error {
	rt, log, err := buildRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	defer log.Sync()

	rt.Start()
	defer rt.Stop()

	fmt.Println("Buyurun efendim. (çıkmak için ctrl-d)")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		output := rt.ProcessTurn(cmd.Context(), "local-session", text)
		fmt.Println(output.ResponseText)
	}
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("Bantz Doctor v%s\n\n", cliVersion)

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"global config", checkGlobalConfig},
		{"runtime wiring", checkRuntime},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "✓"
		if !ok {
			icon = "✗"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if !allOK {
		return fmt.Errorf("one or more checks failed")
	}
	fmt.Println("All checks passed.")
	return nil
}

func checkGlobalConfig() (string, bool) {
	path := config.HomeDir() + "/config.yaml"
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "not found at " + path, false
}

func checkRuntime() (string, bool) {
	rt, log, err := buildRuntime()
	if err != nil {
		return err.Error(), false
	}
	defer rt.Close()
	defer log.Sync()
	return "ok", true
}
