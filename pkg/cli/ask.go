package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/usecase/socratic"
	"github.com/urfave/cli/v3"
)

type askResult struct {
	SessionID model.SessionID `json:"session_id"`
	*socratic.TurnOutput
}

func askCommand() *cli.Command {
	var (
		cfg        config
		sessionID  string
		jsonOutput bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session",
			Usage:       "Session ID to continue. Only meaningful with an archive bucket",
			Sources:     cli.EnvVars("SOCRATIC_SESSION"),
			Destination: &sessionID,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the full turn result as JSON",
			Destination: &jsonOutput,
		},
	}
	flags = append(flags, runtimeFlags(&cfg)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Run a single tutoring turn",
		ArgsUsage: "<question>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if question == "" {
				return goerr.New("question is required")
			}

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

			out, err := rt.engine.Turn(ctx, socratic.TurnInput{SessionID: sid, Text: question})
			if err != nil {
				return err
			}

			if err := rt.archiveSession(ctx, sid); err != nil {
				return err
			}

			w := c.Root().Writer
			if jsonOutput {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(askResult{SessionID: sid, TurnOutput: out}); err != nil {
					return goerr.Wrap(err, "failed to encode turn result")
				}
				return nil
			}

			fmt.Fprintf(w, "%s\n", out.Text)
			return nil
		},
	}
}
