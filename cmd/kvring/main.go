// Command kvring runs a consistent-hash router over simulated storage nodes
// that fail and recover at random, with synthetic users generating traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"kvring/internal/config"
	"kvring/internal/events"
	"kvring/internal/health"
	"kvring/internal/logging"
	"kvring/internal/router"
	"kvring/internal/workload"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "kvring:", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is done.
func run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := loadConfig(args, stderr)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	logger.SetOutput(stderr)

	queue, closeQueue, err := newQueue(ctx, cfg.Queue, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	registry := health.NewRegistry()
	defer registry.Shutdown()

	if cfg.Health.ListenAddr != "" {
		stopHealth, err := serveHealth(cfg.Health.ListenAddr, registry, logger)
		if err != nil {
			return err
		}
		defer stopHealth()
	}

	rt, err := router.New(cfg,
		router.WithLogger(logger),
		router.WithQueue(queue),
		router.WithHealth(registry),
	)
	if err != nil {
		return err
	}
	defer rt.Close()

	var users sync.WaitGroup
	for i := 1; i <= cfg.Workload.Users; i++ {
		u := &workload.User{
			Name:     fmt.Sprintf("user%d", i),
			Keys:     cfg.Workload.Keys,
			Values:   cfg.Workload.Values,
			Interval: cfg.Workload.Interval.Duration,
			Logger:   logger,
		}
		users.Add(1)
		go func() {
			defer users.Done()
			u.Run(ctx, rt)
		}()
	}

	<-ctx.Done()
	users.Wait()

	if status, err := registry.MarshalStatus(context.Background()); err == nil {
		logger.WithFields(logrus.Fields{
			"ring":   rt.Describe(),
			"health": string(status),
		}).Info("shutting down")
	}
	return nil
}

// loadConfig reads the config file named by -config or KVRING_CONFIG and
// applies any flags that were set explicitly.
func loadConfig(args []string, stderr io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("kvring", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		path      = fs.String("config", os.Getenv("KVRING_CONFIG"), "TOML config file")
		nodes     = fs.String("nodes", "", "Comma-separated node names (overrides nodes.count)")
		count     = fs.Int("node-count", 0, "Number of generated nodes")
		algorithm = fs.String("hash", "", "Hash algorithm: sha3-256, sha256, sha512, md5, xxhash")
		recovery  = fs.String("recovery", "", "Recovery source: last or successor")
		backend   = fs.String("queue", "", "Event queue backend: memory or redis")
		redis     = fs.String("redis", "", "Redis address list, comma-separated")
		healthAt  = fs.String("health", "", "gRPC health listen address")
		level     = fs.String("log-level", "", "Log level")
		format    = fs.String("log-format", "", "Log format: text or json")
		users     = fs.Int("users", 0, "Number of synthetic users")
		liveness  = fs.Bool("liveness", true, "Run the per-node liveness simulator")
	)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	var overrideErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "nodes":
			names, err := config.ParseNodeNames(*nodes)
			if err != nil {
				overrideErr = err
				return
			}
			cfg.Nodes.Names = names
		case "node-count":
			cfg.Nodes.Count = *count
			cfg.Nodes.Names = nil
		case "hash":
			cfg.Hash.Algorithm = *algorithm
		case "recovery":
			cfg.Rebalance.RecoverySource = *recovery
		case "queue":
			cfg.Queue.Backend = *backend
		case "redis":
			cfg.Queue.Redis.Addrs = splitCSV(*redis)
		case "health":
			cfg.Health.ListenAddr = *healthAt
		case "log-level":
			cfg.Log.Level = *level
		case "log-format":
			cfg.Log.Format = *format
		case "users":
			cfg.Workload.Users = *users
		case "liveness":
			cfg.Liveness.Enabled = *liveness
		}
	})
	if overrideErr != nil {
		return config.Config{}, overrideErr
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newQueue(ctx context.Context, cfg config.Queue, logger logrus.FieldLogger) (events.Queue, func(), error) {
	if cfg.Backend != config.QueueRedis {
		return events.NewMemoryQueue(), func() {}, nil
	}

	client, err := events.NewRedisClient(ctx, cfg.Redis.Addrs, cfg.Redis.Password)
	if err != nil {
		return nil, nil, err
	}
	q := events.NewRedisQueue(client, cfg.Redis.Key, cfg.Redis.PopTimeout.Duration, logger)
	logger.WithFields(logrus.Fields{
		"addrs": cfg.Redis.Addrs,
		"key":   cfg.Redis.Key,
	}).Info("using redis event queue")
	return q, func() { _ = q.Close() }, nil
}

func serveHealth(addr string, registry *health.Registry, logger logrus.FieldLogger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	registry.Register(srv)
	reflection.Register(srv)

	go func() {
		if err := srv.Serve(lis); err != nil {
			logger.WithError(err).Warn("health server stopped")
		}
	}()
	logger.WithField("addr", lis.Addr().String()).Info("health server listening")

	return srv.GracefulStop, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
