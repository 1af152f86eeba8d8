package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/hanpama/querycost/internal/admission"
	"github.com/hanpama/querycost/internal/config"
	"github.com/hanpama/querycost/internal/costrpc"
	"github.com/hanpama/querycost/internal/eventbus"
	"github.com/hanpama/querycost/internal/logging"
	"github.com/hanpama/querycost/internal/metrics"
	"github.com/hanpama/querycost/internal/otel"
	"github.com/hanpama/querycost/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		configPath string
		over       config.Config
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC admission services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg, over)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&over.HTTP.Addr, "http.addr", "", "HTTP listen address")
	f.StringVar(&over.GRPC.Addr, "grpc.addr", "", "gRPC listen address")
	f.StringArrayVarP(&over.Schema.Files, "schema", "s", nil, "GraphQL SDL file or glob. Repeatable")
	f.StringVar(&over.Schema.CostMap, "cost-map", "", "YAML cost map applied over @cost directives")
	f.Float64Var(&over.Limits.MaxComplexity, "max-complexity", 0, "Reject documents above this complexity (0: unlimited)")
	f.IntVar(&over.Limits.MaxDepth, "max-depth", 0, "Reject documents above this depth (0: unlimited)")
	f.StringVar(&over.Log.Level, "log.level", "", "Log level")
	f.StringVar(&over.OTel.Endpoint, "otel.endpoint", "", "OTLP collector endpoint")
	return cmd
}

// applyFlags copies the flags set on cmd from over into cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config, over config.Config) {
	changed := cmd.Flags().Changed
	if changed("http.addr") {
		cfg.HTTP.Addr = over.HTTP.Addr
	}
	if changed("grpc.addr") {
		cfg.GRPC.Addr = over.GRPC.Addr
	}
	if changed("schema") {
		cfg.Schema.Files = over.Schema.Files
	}
	if changed("cost-map") {
		cfg.Schema.CostMap = over.Schema.CostMap
	}
	if changed("max-complexity") {
		cfg.Limits.MaxComplexity = over.Limits.MaxComplexity
	}
	if changed("max-depth") {
		cfg.Limits.MaxDepth = over.Limits.MaxDepth
	}
	if changed("log.level") {
		cfg.Log.Level = over.Log.Level
	}
	if changed("otel.endpoint") {
		cfg.OTel.Endpoint = over.OTel.Endpoint
	}
}

type app struct {
	cfg     config.Config
	logger  *logrus.Logger
	svc     *admission.Service
	handler http.Handler
	grpc    *grpc.Server
	closers []func(context.Context) error
}

func newApp(cfg config.Config) (*app, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.OTel.Service)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	bus := eventbus.New()
	eventbus.Use(bus)
	unsubscribe := logging.Subscribe(bus, logger)
	a.closers = append(a.closers, func(context.Context) error { unsubscribe(); return nil })

	shutdown, err := otel.Setup(cfg.OTel.Endpoint, cfg.OTel.Service, bus)
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	s, err := loadSchema(cfg.Schema.Files, cfg.Schema.CostMap)
	if err != nil {
		a.close()
		return nil, err
	}
	a.svc, err = admission.New(s, cfg.Limits.Analysis(), cfg.Cache.MaxDocuments)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { a.svc.Close(); return nil })

	mux := http.NewServeMux()
	var sopts []server.Option
	if cfg.HTTP.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	sopts = append(sopts,
		server.WithTimeout(cfg.HTTP.Timeout),
		server.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)
	if len(cfg.HTTP.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.HTTP.CORSOrigins...))
	}
	mux.Handle("/graphql", server.New(a.svc, sopts...))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if cfg.Metrics.Enabled {
		m := metrics.New()
		unsubscribe := m.Subscribe(bus)
		a.closers = append(a.closers, func(context.Context) error { unsubscribe(); return nil })
		mux.Handle("/metrics", m.Handler())
	}
	a.handler = mux

	if cfg.GRPC.Addr != "" {
		rpc, err := costrpc.NewServer(a.svc)
		if err != nil {
			a.close()
			return nil, err
		}
		a.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(costrpc.UnaryInterceptor()))
		costrpc.Register(a.grpc, rpc)
	}

	logger.WithFields(logrus.Fields{
		"types":          len(s.Types),
		"max_complexity": cfg.Limits.MaxComplexity,
		"max_depth":      cfg.Limits.MaxDepth,
	}).Info("schema loaded")
	return a, nil
}

// run serves until ctx is done, then shuts the listeners down.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.HTTP.Addr != "" {
		hs := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: a.handler, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			a.logger.WithField("addr", hs.Addr).Info("http listening")
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	if a.grpc != nil {
		lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		g.Go(func() error {
			a.logger.WithField("addr", lis.Addr().String()).Info("grpc listening")
			return a.grpc.Serve(lis)
		})
		g.Go(func() error {
			<-ctx.Done()
			a.grpc.GracefulStop()
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("stopped")
	return err
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.WithError(err).Warn("shutdown")
		}
	}
	a.closers = nil
	eventbus.Use(nil)
}
