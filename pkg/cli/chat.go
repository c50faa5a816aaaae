package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/usecase/socratic"
	"github.com/m-mizutani/socratic/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg         config
		sessionID   string
		historyFile string
		showSources bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session",
			Usage:       "Session ID to resume. Archived sessions are restored when an archive bucket is set",
			Sources:     cli.EnvVars("SOCRATIC_SESSION"),
			Destination: &sessionID,
		},
		&cli.StringFlag{
			Name:        "history-file",
			Usage:       "File keeping readline input history",
			Sources:     cli.EnvVars("SOCRATIC_HISTORY_FILE"),
			Destination: &historyFile,
		},
		&cli.BoolFlag{
			Name:        "sources",
			Usage:       "Print the passages each reply was grounded on",
			Destination: &showSources,
		},
	}
	flags = append(flags, runtimeFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive tutoring session",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}

			rt, err := cfg.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			sid := model.SessionID(sessionID)
			if sid == "" {
				sid = model.NewSessionID()
			} else if err := rt.restoreSession(ctx, sid); err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to initialize readline")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Session %s started (%s backend). Type 'exit' to quit.\n", sid, rt.inference.BackendName())

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				if message == "exit" || message == "quit" {
					break
				}
				if message == "" {
					continue
				}

				spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				spin.Suffix = " thinking..."
				spin.Start()
				out, err := rt.engine.Turn(ctx, socratic.TurnInput{SessionID: sid, Text: message})
				spin.Stop()

				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					logging.From(ctx).Error("turn failed", "error", err)
					fmt.Fprintf(w, "(turn failed: %s)\n", err.Error())
					continue
				}

				fmt.Fprintf(w, "%s\n", out.Text)
				if showSources {
					printSources(w, out)
				}
			}

			if err := rt.archiveSession(ctx, sid); err != nil {
				return err
			}

			fmt.Fprintf(w, "\nChat session completed\n")
			return nil
		},
	}
}

func printSources(w io.Writer, out *socratic.TurnOutput) {
	for i, hit := range out.Sources {
		text := hit.Document.Text
		if runes := []rune(text); len(runes) > 72 {
			text = string(runes[:72]) + "..."
		}
		fmt.Fprintf(w, "  [%d] %.3f %s\n", i+1, hit.Score, text)
	}
}

// restoreSession loads an archived session into memory. Without an archive a
// resumed id simply starts empty.
func (r *runtime) restoreSession(ctx context.Context, sid model.SessionID) error {
	if r.archiver == nil {
		return nil
	}

	sc, err := r.archiver.Restore(ctx, sid)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			logging.From(ctx).Info("no archived session, starting fresh", "session_id", sid)
			return nil
		}
		return err
	}
	if err := r.memory.Load(sc); err != nil {
		return err
	}

	logging.From(ctx).Info("session restored", "session_id", sid, "turns", len(sc.Turns))
	return nil
}

func (r *runtime) archiveSession(ctx context.Context, sid model.SessionID) error {
	if r.archiver == nil {
		return nil
	}

	sc, err := r.memory.Snapshot(sid)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if err := r.archiver.Archive(ctx, sc); err != nil {
		return err
	}

	logging.From(ctx).Info("session archived", "session_id", sid)
	return nil
}
