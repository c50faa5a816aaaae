package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/urfave/cli/v3"
)

func tokenizeCommand() *cli.Command {
	var (
		cfg    config
		decode bool
		pieces bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "decode",
			Aliases:     []string{"d"},
			Usage:       "Treat arguments as token ids and print the decoded text",
			Destination: &decode,
		},
		&cli.BoolFlag{
			Name:        "pieces",
			Usage:       "Print one id and piece per line instead of a single id list",
			Destination: &pieces,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, modelFlags(&cfg)...)

	return &cli.Command{
		Name:      "tokenize",
		Usage:     "Encode text to token ids, or decode ids back to text",
		ArgsUsage: "<text> | --decode <id> ...",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if _, err := cfg.setup(ctx, c); err != nil {
				return err
			}

			tok, err := cfg.newTokenizer()
			if err != nil {
				return err
			}
			w := c.Root().Writer

			if decode {
				ids := make([]model.TokenID, 0, c.Args().Len())
				for _, arg := range c.Args().Slice() {
					n, err := strconv.ParseUint(arg, 10, 32)
					if err != nil {
						return goerr.Wrap(model.ErrInvalidConfig, "token id must be a non-negative integer", goerr.V("arg", arg))
					}
					ids = append(ids, model.TokenID(n))
				}

				text, err := tok.DecodeStrict(ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\n", text)
				return nil
			}

			ids := tok.Encode(strings.Join(c.Args().Slice(), " "))
			if pieces {
				for _, id := range ids {
					piece, _ := tok.Piece(id)
					fmt.Fprintf(w, "%d\t%q\n", id, piece)
				}
				return nil
			}

			strs := make([]string, len(ids))
			for i, id := range ids {
				strs[i] = strconv.Itoa(int(id))
			}
			fmt.Fprintf(w, "%s\n", strings.Join(strs, " "))
			return nil
		},
	}
}
