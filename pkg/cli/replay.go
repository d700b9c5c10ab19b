package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newReplayCmd(opts *options) *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "replay FILE...",
		Short: "Replay transcripts, one session per file",
		Long: "Replay transcripts. Each file holds one question per line and is answered as its own\n" +
			"session; blank lines and lines starting with # are skipped. Files run in parallel and\n" +
			"their answers are printed in the order the files were given.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallel < 1 {
				return fmt.Errorf("--parallel must be at least 1")
			}
			date, err := opts.currentDate()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			r := &replayer{app: a, date: date, showSQL: opts.showSQL}
			return r.run(cmd.Context(), args, parallel, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "transcripts replayed at once")
	cmd.Flags().BoolVar(&opts.showSQL, "sql", false, "print the generated SQL")
	return cmd
}

type replayer struct {
	app     *app
	date    time.Time
	showSQL bool
	failed  atomic.Int64
}

func (r *replayer) run(ctx context.Context, paths []string, parallel int, out io.Writer) error {
	transcripts := make([][]string, len(paths))
	total := 0
	for i, path := range paths {
		questions, err := readTranscript(path)
		if err != nil {
			return err
		}
		transcripts[i] = questions
		total += len(questions)
	}

	outputs := make([]bytes.Buffer, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := range paths {
		g.Go(func() error {
			return r.replay(ctx, paths[i], transcripts[i], &outputs[i])
		})
	}
	err := g.Wait()

	for i := range outputs {
		if _, werr := out.Write(outputs[i].Bytes()); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}
	if n := r.failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d questions failed", n, total)
	}
	return nil
}

// replay answers one transcript in a fresh session.
func (r *replayer) replay(ctx context.Context, path string, questions []string, w io.Writer) error {
	session := uuid.NewString()
	fmt.Fprintf(w, "== %s\n", path)

	for _, q := range questions {
		fmt.Fprintf(w, "%s%s\n", prompt, q)
		resp, err := r.app.turns.ProcessTurn(ctx, session, q, r.date)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.failed.Add(1)
			r.app.logger.Warn("Replayed question failed",
				zap.String("transcript", path),
				zap.String("session_id", session),
				zap.Error(err))
			fmt.Fprintf(w, "error: %v\n\n", err)
			continue
		}
		printResponse(w, r.app.cat, resp, r.showSQL)
		fmt.Fprintln(w)
	}
	return nil
}

func readTranscript(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	var questions []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	return questions, nil
}
