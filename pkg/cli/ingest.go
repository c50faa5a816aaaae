package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/usecase/socratic"
	"github.com/m-mizutani/socratic/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func ingestCommand() *cli.Command {
	var (
		cfg        config
		tags       []string
		paragraphs bool
	)

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "tag",
			Aliases:     []string{"t"},
			Usage:       "Tag stored with every ingested passage (can be repeated)",
			Destination: &tags,
		},
		&cli.BoolFlag{
			Name:        "paragraphs",
			Aliases:     []string{"p"},
			Usage:       "Split each input on blank lines and store every paragraph as its own passage",
			Destination: &paragraphs,
		},
	}
	flags = append(flags, runtimeFlags(&cfg)...)

	return &cli.Command{
		Name:      "ingest",
		Usage:     "Add passages to the knowledge store",
		ArgsUsage: "[file ...] (stdin when omitted or '-')",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}

			paths := c.Args().Slice()
			if len(paths) == 0 {
				paths = []string{"-"}
			}

			var inputs []socratic.IngestInput
			for _, path := range paths {
				text, err := readInput(c, path)
				if err != nil {
					return err
				}
				for _, passage := range splitPassages(text, paragraphs) {
					inputs = append(inputs, socratic.IngestInput{Text: passage, Tags: tags})
				}
			}
			if len(inputs) == 0 {
				return goerr.New("no passages to ingest")
			}

			if cfg.knowledgeBackend == "memory" {
				logging.From(ctx).Warn("memory knowledge store does not outlive this command")
			}

			rt, err := cfg.newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			docs, err := rt.engine.IngestBatch(ctx, inputs)
			for _, doc := range docs {
				fmt.Fprintf(c.Root().Writer, "%s\n", doc.ID)
			}
			if err != nil {
				return err
			}

			logging.From(ctx).Info("passages ingested", "count", len(docs))
			return nil
		},
	}
}

func readInput(c *cli.Command, path string) (string, error) {
	if path == "-" {
		r := c.Root().Reader
		if r == nil {
			r = os.Stdin
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return "", goerr.Wrap(err, "failed to read stdin")
		}
		return string(data), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read file", goerr.V("path", path))
	}
	return string(data), nil
}

// splitPassages returns the non-blank passages of text.
func splitPassages(text string, paragraphs bool) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if !paragraphs {
		if s := strings.TrimSpace(text); s != "" {
			return []string{s}
		}
		return nil
	}

	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
