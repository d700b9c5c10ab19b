package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const prompt = "> "

func newAskCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := opts.currentDate()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			session := opts.session
			if session == "" {
				session = uuid.NewString()
			}
			resp, err := a.turns.ProcessTurn(cmd.Context(), session, strings.Join(args, " "), date)
			if err != nil {
				return err
			}
			printResponse(cmd.OutOrStdout(), a.cat, resp, opts.showSQL)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.session, "session", "", "session id (default a new one)")
	cmd.Flags().BoolVar(&opts.showSQL, "sql", false, "print the generated SQL")
	return cmd
}

func newChatCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: "Start an interactive conversation. Follow-up questions use the earlier turns.\n" +
			"Type :history to list the turns so far, :reset to start over and :quit to leave.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := opts.currentDate()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			session := opts.session
			if session == "" {
				session = uuid.NewString()
			}
			s := &chatSession{app: a, id: session, showSQL: opts.showSQL}
			return s.run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), date)
		},
	}
	cmd.Flags().StringVar(&opts.session, "session", "", "session id (default a new one)")
	cmd.Flags().BoolVar(&opts.showSQL, "sql", false, "print the generated SQL")
	return cmd
}

type chatSession struct {
	app     *app
	id      string
	showSQL bool
}

// run reads one question per line until EOF or :quit.
func (s *chatSession) run(ctx context.Context, in io.Reader, out io.Writer, date time.Time) error {
	fmt.Fprintln(out, "Ask about the portfolio's assets, funds and lenders. Type :quit to leave.")

	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, prompt)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case ":quit", ":exit":
			return nil
		case ":reset":
			if err := s.app.turns.ResetSession(ctx, s.id); err != nil {
				return err
			}
			fmt.Fprintln(out, "Starting over.")
		case ":history":
			s.printHistory(out)
		default:
			resp, err := s.app.turns.ProcessTurn(ctx, s.id, line, date)
			switch {
			case err == nil:
				printResponse(out, s.app.cat, resp, s.showSQL)
			case errors.Is(err, context.Canceled):
				return err
			default:
				s.app.logger.Debug("Turn failed", zap.String("session_id", s.id), zap.Error(err))
				fmt.Fprintf(out, "Sorry, that question could not be answered: %v\n", err)
			}
		}
		fmt.Fprint(out, prompt)
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

func (s *chatSession) printHistory(out io.Writer) {
	turns := s.app.turns.History(s.id)
	if len(turns) == 0 {
		fmt.Fprintln(out, "No questions answered yet.")
		return
	}
	rows := make([][]string, len(turns))
	for i, t := range turns {
		rows[i] = []string{strconv.Itoa(t.ID), string(t.Intent), t.RawQuestion}
	}
	printTable(out, []string{"Turn", "Intent", "Question"}, rows)
}
