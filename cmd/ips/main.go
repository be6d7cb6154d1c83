package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jasonwaters/icloud-photos-sync/internal/app"
	"github.com/jasonwaters/icloud-photos-sync/internal/config"
	"github.com/jasonwaters/icloud-photos-sync/internal/engine"
)

// Exit codes: 0 success, 1 unexpected failure, 2 retry budget exhausted.
const (
	exitOK         = 0
	exitUnexpected = 1
	exitMaxRetries = 2
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var budget *engine.RetryBudgetError
		if errors.As(err, &budget) {
			os.Exit(exitMaxRetries)
		}
		os.Exit(exitUnexpected)
	}
	os.Exit(exitOK)
}

// newApp reads the config and creates a SyncApp. The caller must defer
// app.Close().
func newApp() (*app.SyncApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewSyncApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:           "ips",
	Short:         "Mirror a remote photo library to the local filesystem",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Data Dir: %s\n", cfg.DataDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Data Dir:  %s\n", cfg.DataDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Remote:    %s\n", cfg.Remote.BaseURL)
		fmt.Printf("Username:  %s\n", cfg.Remote.Username)
		fmt.Printf("Threads:   %d\n", cfg.Download.Threads)
		fmt.Printf("Retries:   %d\n", cfg.Download.MaxRetries)
		return nil
	},
}

// auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Sign in to the remote service",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Print("Password: ")
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}

		codePrompt := func() (string, error) {
			fmt.Print("MFA code: ")
			reader := bufio.NewReader(os.Stdin)
			code, err := reader.ReadString('\n')
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(code), nil
		}

		if err := a.Authenticate(cmd.Context(), string(password), codePrompt); err != nil {
			return err
		}

		fmt.Println("Signed in.")
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror the remote library",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.Sync(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Sync complete in %d attempt(s)\n", summary.Attempts)
		fmt.Printf("Assets: %d kept, %d added, %d removed\n",
			summary.AssetsKept, summary.AssetsAdded, summary.AssetsRemoved)
		fmt.Printf("Albums: %d kept, %d added, %d removed\n",
			summary.AlbumsKept, summary.AlbumsAdded, summary.AlbumsRemoved)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No sync runs recorded.")
			return nil
		}

		for _, run := range runs {
			duration := ""
			if run.FinishedAt.Valid {
				d := run.FinishedAt.Time.Sub(run.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %s  %-8s  attempts:%d  +%d/-%d assets  +%d/-%d albums  %s\n",
				run.ID,
				run.StartedAt.Format("2006-01-02 15:04:05"),
				run.Status,
				run.Attempts,
				run.AssetsAdded, run.AssetsRemoved,
				run.AlbumsAdded, run.AlbumsRemoved,
				duration,
			)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
}
