package cli

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/urfave/cli/v3"
)

func blueprintCommand() *cli.Command {
	var (
		cfg         config
		topic       string
		goal        string
		constraints []string
		maxNodes    int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "topic",
			Usage:       "Subject of the curriculum",
			Destination: &topic,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "goal",
			Aliases:     []string{"g"},
			Usage:       "What the learner wants to be able to do",
			Destination: &goal,
		},
		&cli.StringSliceFlag{
			Name:        "constraint",
			Usage:       "Extra requirement for the curriculum (can be repeated)",
			Destination: &constraints,
		},
		&cli.IntFlag{
			Name:        "max-nodes",
			Usage:       "Maximum number of learning nodes",
			Destination: &maxNodes,
		},
	}
	flags = append(flags, runtimeFlags(&cfg)...)

	return &cli.Command{
		Name:  "blueprint",
		Usage: "Generate a curriculum as JSON",
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

			bp, err := rt.engine.GenerateBlueprint(ctx, model.BlueprintRequest{
				Topic:       topic,
				Goal:        goal,
				Constraints: constraints,
				MaxNodes:    int(maxNodes),
			}, nil)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(c.Root().Writer)
			enc.SetIndent("", "  ")
			if err := enc.Encode(bp); err != nil {
				return goerr.Wrap(err, "failed to encode blueprint")
			}
			return nil
		},
	}
}
