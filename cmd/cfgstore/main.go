// cfgstore server
// Serves the configuration store over gRPC and REST
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/nainya/cfgstore/internal/config"
	"github.com/nainya/cfgstore/internal/events"
	"github.com/nainya/cfgstore/internal/logger"
	"github.com/nainya/cfgstore/internal/metrics"
	"github.com/nainya/cfgstore/internal/rest"
	"github.com/nainya/cfgstore/internal/server"
	"github.com/nainya/cfgstore/internal/service"
	"github.com/nainya/cfgstore/pkg/persist"
	"github.com/nainya/cfgstore/pkg/setting"
	"github.com/nainya/cfgstore/pkg/snapshot"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	port       = flag.Int("port", 0, "gRPC port, overrides the config file")
	walPath    = flag.String("wal", "", "WAL path, overrides the config file")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cfgstore: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.GRPC.Port = *port
	}
	if *walPath != "" {
		cfg.Storage.WALPath = *walPath
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Pretty:     cfg.Log.Pretty,
		WithCaller: cfg.Log.WithCaller,
	})

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

type closer interface{ Close() error }

func run(cfg *config.Config, log *logger.Logger) (err error) {
	log.LogServerStart(cfg.GRPC.Port, cfg.REST.Port, cfg.Storage.WALPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Shutdown order is the reverse of construction.
	var closers []closer
	defer func() {
		var result *multierror.Error
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i].Close(); cerr != nil {
				result = multierror.Append(result, cerr)
			}
		}
		if cerr := result.ErrorOrNil(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()

	var storeOpts []setting.Option
	sink, err := newEventSink(cfg.Events, log, m)
	if err != nil {
		return err
	}
	if sink != nil {
		closers = append(closers, sink)
		storeOpts = append(storeOpts, setting.WithEventSink(sink))
	}

	store, err := setting.NewStore(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	snaps, err := snapshot.NewManager(store,
		snapshot.WithLogger(log.SnapshotLogger().Zerolog()),
		snapshot.WithLimits(snapshot.Limits{
			MaxFilters:       cfg.Snapshot.MaxFilters,
			MaxItems:         cfg.Snapshot.MaxItems,
			MinRetention:     cfg.Snapshot.MinRetention,
			MaxRetention:     cfg.Snapshot.MaxRetention,
			DefaultRetention: cfg.Snapshot.DefaultRetention,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create snapshot manager: %w", err)
	}

	if cfg.Storage.WALPath != "" {
		p, err := persist.Open(persist.Options{
			WALPath:            cfg.Storage.WALPath,
			CheckpointInterval: cfg.Storage.CheckpointInterval,
			NoSync:             cfg.Storage.NoSync,
		}, store, snaps, log.StoreLogger().Zerolog())
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		closers = append(closers, p)
	} else {
		log.Warn().Msg("no wal_path configured, state is kept in memory only")
	}
	// running materializations finish before the final checkpoint
	closers = append(closers, closeFunc(func() error { snaps.Close(); return nil }))

	svc := service.New(store, snaps, m, service.PageLimits{
		Default: cfg.Query.DefaultPageSize,
		Max:     cfg.Query.MaxPageSize,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var shuttingDown atomic.Bool
	ready := func() error {
		if shuttingDown.Load() {
			return errors.New("shutting down")
		}
		return nil
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(m, log.GrpcLogger())),
	)
	server.RegisterConfigurationServiceServer(grpcServer, server.NewServer(svc, log))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.LogServerReady(lis.Addr().String())
		return grpcServer.Serve(lis)
	})

	var restServer *rest.Server
	if cfg.REST.Port != 0 {
		if cfg.App.Environment == "prod" {
			gin.SetMode(gin.ReleaseMode)
		}
		restServer = rest.NewServer(cfg.REST.Port, rest.NewHandler(svc, log, m),
			cfg.REST.ReadTimeout, cfg.REST.WriteTimeout, log.HTTPLogger())
		g.Go(restServer.Start)
	}

	var obsServer *server.ObservabilityServer
	if cfg.Observability.Port != 0 {
		obsServer = server.NewObservabilityServer(cfg.Observability.Port,
			server.NewObservabilityHandler(reg, ready, cfg.Observability.Pprof), log)
		g.Go(obsServer.Start)
	}

	g.Go(func() error {
		snaps.Janitor(gctx, cfg.Snapshot.PurgeInterval)
		return nil
	})
	g.Go(func() error {
		svc.RunGauges(gctx, 15*time.Second)
		return nil
	})
	g.Go(func() error {
		m.RunUptime(gctx, 15*time.Second)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shuttingDown.Store(true)
		log.LogServerShutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GRPC.ShutdownTimeout)
		defer cancel()

		var result *multierror.Error
		if restServer != nil {
			if err := restServer.Shutdown(shutdownCtx); err != nil {
				result = multierror.Append(result, err)
			}
		}
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		if obsServer != nil {
			if err := obsServer.Shutdown(shutdownCtx); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	})

	return g.Wait()
}

func newEventSink(cfg config.EventsConfig, log *logger.Logger, m *metrics.Metrics) (*events.Publisher, error) {
	elog := log.EventsLogger().Zerolog()
	switch cfg.Sink {
	case "kafka":
		return events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, elog, m), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		return events.NewRedisPublisher(client, cfg.Redis.Channel, elog, m), nil
	}
	return nil, nil
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }
