package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalid is returned when a configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Recovery sources for a node coming back alive.
const (
	RecoveryLast      = "last"
	RecoverySuccessor = "successor"
)

// Queue backends.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Duration is a time.Duration decoded from strings like "1s" or "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Nodes describes the storage node universe. When Names is set it wins over
// Count and Prefix.
type Nodes struct {
	Count  int      `toml:"count"`
	Prefix string   `toml:"prefix"`
	Names  []string `toml:"names"`
}

// Hash selects the digest used to place nodes and keys on the ring.
type Hash struct {
	Algorithm string `toml:"algorithm"`
}

// Liveness controls the per-node simulator that flips nodes alive and dead.
// Each node sleeps Unit * rand[0, Slots) between flips.
type Liveness struct {
	Enabled bool     `toml:"enabled"`
	Unit    Duration `toml:"unit"`
	Slots   int      `toml:"slots"`
	Seed    int64    `toml:"seed"`
}

// Rebalance configures the rebalance engine.
type Rebalance struct {
	RecoverySource string `toml:"recovery_source"`
}

// Redis holds connection settings for the redis queue backend.
type Redis struct {
	Addrs      []string `toml:"addrs"`
	Password   string   `toml:"password"`
	Key        string   `toml:"key"`
	PopTimeout Duration `toml:"pop_timeout"`
}

// Queue selects the liveness event queue backend.
type Queue struct {
	Backend string `toml:"backend"`
	Redis   Redis  `toml:"redis"`
}

// Health configures the optional gRPC health listener. Empty disables it.
type Health struct {
	ListenAddr string `toml:"listen_addr"`
}

// Log configures the process logger.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Workload configures the synthetic users driving traffic.
type Workload struct {
	Users    int      `toml:"users"`
	Keys     int      `toml:"keys"`
	Values   int      `toml:"values"`
	Interval Duration `toml:"interval"`
}

// Config holds the full process configuration.
type Config struct {
	Nodes     Nodes     `toml:"nodes"`
	Hash      Hash      `toml:"hash"`
	Liveness  Liveness  `toml:"liveness"`
	Rebalance Rebalance `toml:"rebalance"`
	Queue     Queue     `toml:"queue"`
	Health    Health    `toml:"health"`
	Log       Log       `toml:"log"`
	Workload  Workload  `toml:"workload"`
}

// Default returns the configuration used when no file is given: four nodes,
// sha3-256 placement, flips every 0-29 seconds and three users.
func Default() Config {
	return Config{
		Nodes: Nodes{
			Count:  4,
			Prefix: "Database-",
		},
		Hash: Hash{Algorithm: "sha3-256"},
		Liveness: Liveness{
			Enabled: true,
			Unit:    Duration{time.Second},
			Slots:   30,
		},
		Rebalance: Rebalance{RecoverySource: RecoveryLast},
		Queue: Queue{
			Backend: QueueMemory,
			Redis: Redis{
				Addrs:      []string{"127.0.0.1:6379"},
				Key:        "kvring:liveness",
				PopTimeout: Duration{time.Second},
			},
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Workload: Workload{
			Users:    3,
			Keys:     5,
			Values:   5,
			Interval: Duration{2 * time.Second},
		},
	}
}

// Load reads a TOML file on top of Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the router cannot run with.
func (c Config) Validate() error {
	names := c.NodeNames()
	if len(names) == 0 {
		return fmt.Errorf("%w: at least one node is required", ErrInvalid)
	}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			return fmt.Errorf("%w: node name cannot be empty", ErrInvalid)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate node name %q", ErrInvalid, name)
		}
		seen[name] = struct{}{}
	}

	if c.Liveness.Enabled {
		if c.Liveness.Slots <= 0 {
			return fmt.Errorf("%w: liveness.slots must be positive, got %d", ErrInvalid, c.Liveness.Slots)
		}
		if c.Liveness.Unit.Duration < 0 {
			return fmt.Errorf("%w: liveness.unit cannot be negative", ErrInvalid)
		}
	}

	switch c.Rebalance.RecoverySource {
	case RecoveryLast, RecoverySuccessor:
	default:
		return fmt.Errorf("%w: unknown rebalance.recovery_source %q", ErrInvalid, c.Rebalance.RecoverySource)
	}

	switch c.Queue.Backend {
	case QueueMemory:
	case QueueRedis:
		if len(c.Queue.Redis.Addrs) == 0 {
			return fmt.Errorf("%w: queue.redis.addrs is required for the redis backend", ErrInvalid)
		}
		if c.Queue.Redis.Key == "" {
			return fmt.Errorf("%w: queue.redis.key cannot be empty", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown queue.backend %q", ErrInvalid, c.Queue.Backend)
	}

	if c.Workload.Users < 0 {
		return fmt.Errorf("%w: workload.users cannot be negative", ErrInvalid)
	}
	if c.Workload.Users > 0 && (c.Workload.Keys <= 0 || c.Workload.Values <= 0) {
		return fmt.Errorf("%w: workload.keys and workload.values must be positive", ErrInvalid)
	}
	return nil
}

// NodeNames returns the node universe in declaration order. Generated names
// are numbered from 1.
func (c Config) NodeNames() []string {
	if len(c.Nodes.Names) > 0 {
		return append([]string(nil), c.Nodes.Names...)
	}
	names := make([]string, 0, c.Nodes.Count)
	for i := 1; i <= c.Nodes.Count; i++ {
		names = append(names, fmt.Sprintf("%s%d", c.Nodes.Prefix, i))
	}
	return names
}

// ParseNodeNames parses a comma-separated list of node names:
// "db-a,db-b,db-c"
func ParseNodeNames(s string) ([]string, error) {
	if s == "" {
		return []string{}, nil
	}

	parts := strings.Split(s, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			return nil, fmt.Errorf("%w: empty node name in %q", ErrInvalid, s)
		}
		names = append(names, name)
	}
	return names, nil
}
