package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	config "github.com/mlld-lang/mlld-sub001/internal/config"
	log "github.com/mlld-lang/mlld-sub001/internal/log"
	protoreg "github.com/mlld-lang/mlld-sub001/internal/protoreg"
	remote "github.com/mlld-lang/mlld-sub001/internal/remote"
	server "github.com/mlld-lang/mlld-sub001/internal/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		addr            string
		cors            []string
		metadataHeaders []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /dispatch (NDJSON) and /ws (websocket) over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			opts := []server.Option{server.WithTimeout(a.cfg.Server.Timeout.Duration)}
			if a.cfg.Server.Pretty {
				opts = append(opts, server.WithPretty())
			}
			if !a.cfg.Policy.Enabled {
				opts = append(opts, server.WithoutPolicy())
			}
			if a.log != nil {
				opts = append(opts, server.WithSink(a.log))
			}
			if len(cors) > 0 {
				opts = append(opts, server.WithCORS(cors...))
			}
			if len(metadataHeaders) > 0 {
				opts = append(opts, server.WithMetadataHeaders(metadataHeaders...))
			}
			h := server.New(a.exec, a.scope, opts...)

			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
			log.Info("dispatch server listening", "addr", lis.Addr().String())
			return serveUntilSignal(cmd.Context(), func() error {
				if err := srv.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			}, func(ctx context.Context) error { return srv.Shutdown(ctx) })
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	cmd.Flags().StringSliceVar(&cors, "cors", nil, "allowed CORS origins")
	cmd.Flags().StringSliceVar(&metadataHeaders, "metadata-header", nil, "HTTP headers forwarded to remote runtimes")
	return cmd
}

func newWorkerCmd(g *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve sh and bash code to remote dispatchers over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			log.Init(cfg.Log.Level, nil)
			reg, err := protoreg.Default()
			if err != nil {
				return err
			}
			h, err := workerHandler(cfg)
			if err != nil {
				return err
			}
			srv := remote.NewServer(reg, h)
			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			log.Info("runtime worker listening", "addr", lis.Addr().String(), "service", reg.Service().FullName())
			return serveUntilSignal(cmd.Context(), func() error { return srv.Serve(lis) }, func(context.Context) error {
				srv.Stop()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":7070", "gRPC listen address")
	return cmd
}

func workerHandler(cfg *config.Config) (*remote.ShellHandler, error) {
	h := &remote.ShellHandler{Shell: cfg.NewShell()}
	analyzer, err := cfg.Analyzer()
	if err != nil {
		return nil, err
	}
	if analyzer != nil {
		h.Policy = analyzer
	}
	return h, nil
}

// serveUntilSignal runs serve until it returns or the process is
// interrupted, then calls stop with a short grace period.
func serveUntilSignal(ctx context.Context, serve func() error, stop func(context.Context) error) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- serve() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := stop(sctx); err != nil {
		return err
	}
	return <-errc
}
