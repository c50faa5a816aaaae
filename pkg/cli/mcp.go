package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/service/mcp"
	"github.com/m-mizutani/socratic/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var (
		cfg         config
		addr        string
		idleTimeout time.Duration
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "http",
			Usage:       "Serve the streamable HTTP transport on this address instead of stdio",
			Sources:     cli.EnvVars("SOCRATIC_MCP_HTTP"),
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "idle-timeout",
			Usage:       "Archive and drop sessions idle for this long. 0 disables sweeping",
			Value:       30 * time.Minute,
			Sources:     cli.EnvVars("SOCRATIC_IDLE_TIMEOUT"),
			Destination: &idleTimeout,
		},
	}
	flags = append(flags, runtimeFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve dialogue, blueprint and ingest as MCP tools",
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

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			if idleTimeout > 0 {
				go rt.sweepSessions(ctx, idleTimeout)
			}

			server := mcp.New(rt.engine, c.Root().Version)
			if addr == "" {
				logging.From(ctx).Info("serving MCP over stdio")
				return server.Run(ctx)
			}

			return serveHTTP(ctx, addr, server.Handler())
		},
	}
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("serving MCP over HTTP", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return goerr.Wrap(err, "http server stopped", goerr.V("addr", addr))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shut down http server")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return goerr.Wrap(err, "http server stopped", goerr.V("addr", addr))
	}
	return nil
}
