package cli

import (
	"context"

	"github.com/m-mizutani/socratic/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

var version = "dev"

type Error struct {
	Code    int
	Message string
}

// New returns the root command.
func New() *cli.Command {
	return &cli.Command{
		Name:    "socratic",
		Usage:   "Local tutoring dialogue engine",
		Version: version,
		Commands: []*cli.Command{
			chatCommand(),
			askCommand(),
			ingestCommand(),
			blueprintCommand(),
			tokenizeCommand(),
			mcpCommand(),
			weightsCommand(),
		},
	}
}

func Run(ctx context.Context, argv []string) *Error {
	if err := New().Run(ctx, argv); err != nil {
		logging.Default().Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
