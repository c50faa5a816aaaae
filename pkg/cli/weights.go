package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/inference"
	"github.com/m-mizutani/socratic/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func weightsCommand() *cli.Command {
	var (
		cfg       config
		output    string
		vocabOut  string
		dim       int64
		window    int64
		weightRNG int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Path of the weights file to write",
			Destination: &output,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "vocab-output",
			Usage:       "Also write the vocabulary the weights were sized for as YAML",
			Destination: &vocabOut,
		},
		&cli.IntFlag{
			Name:        "dim",
			Usage:       "Embedding dimension",
			Value:       32,
			Destination: &dim,
		},
		&cli.IntFlag{
			Name:        "window",
			Usage:       "Number of preceding tokens the model attends to",
			Value:       8,
			Destination: &window,
		},
		&cli.IntFlag{
			Name:        "init-seed",
			Usage:       "Seed for the random initialization",
			Value:       1,
			Destination: &weightRNG,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, modelFlags(&cfg)...)

	return &cli.Command{
		Name:  "weights",
		Usage: "Write randomly initialized quantized weights for a vocabulary",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}

			tok, err := cfg.newTokenizer()
			if err != nil {
				return err
			}

			w, err := inference.RandomWeights(tok.Size(), int(dim), int(window), weightRNG)
			if err != nil {
				return err
			}

			f, err := os.Create(output)
			if err != nil {
				return goerr.Wrap(err, "failed to create weights file", goerr.V("path", output))
			}
			if err := inference.WriteWeights(f, w); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return goerr.Wrap(err, "failed to close weights file", goerr.V("path", output))
			}

			if vocabOut != "" {
				data, err := yaml.Marshal(tok.Export())
				if err != nil {
					return goerr.Wrap(err, "failed to encode vocabulary")
				}
				if err := os.WriteFile(vocabOut, data, 0o644); err != nil {
					return goerr.Wrap(err, "failed to write vocabulary", goerr.V("path", vocabOut))
				}
			}

			logging.From(ctx).Info("weights written",
				"path", output,
				"vocab_size", tok.Size(),
				"dim", dim,
				"window", window)
			fmt.Fprintf(c.Root().Writer, "%s\n", output)
			return nil
		},
	}
}
