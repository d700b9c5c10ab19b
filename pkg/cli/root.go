// Package cli is the operator command line: an interactive chat, one-shot
// questions, transcript replay and catalog inspection.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess ExitCode = 0
	exitCodeError   ExitCode = 1
)

const dateLayout = "2006-01-02"

// options are the persistent flags shared by every command.
type options struct {
	version    string
	configPath string
	date       string
	session    string
	verbose    bool
	showSQL    bool
}

// currentDate is the --date flag, or today in UTC.
func (o *options) currentDate() (time.Time, error) {
	if o.date == "" {
		y, m, d := time.Now().UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(dateLayout, o.date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", o.date)
	}
	return t, nil
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &options{version: version}

	rootCmd := &cobra.Command{
		Use:           "portfolio-chat",
		Short:         "Ask questions about the real-estate portfolio in plain English.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default config.yaml)")
	flags.StringVar(&opts.date, "date", "", "current date for relative periods, YYYY-MM-DD (default today)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "set debug logging level")

	rootCmd.AddCommand(
		newChatCmd(opts),
		newAskCmd(opts),
		newReplayCmd(opts),
		newCatalogCmd(opts),
		newSamplesCmd(),
	)
	return rootCmd
}

// Run executes the command line until it finishes or the process is interrupted.
func Run(version string) ExitCode {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := NewRootCmd(version)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCodeError
	}
	return exitCodeSuccess
}
