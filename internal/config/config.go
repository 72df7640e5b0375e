// Package config handles the tensorvm.toml daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fortiblox/tensorvm/internal/logging"
	"github.com/fortiblox/tensorvm/pkg/engine"
	"github.com/fortiblox/tensorvm/pkg/programstore"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full daemon configuration.
type Config struct {
	// DataDir holds persistent state when a store path is not given.
	DataDir string `toml:"data_dir"`

	Engine   EngineConfig   `toml:"engine"`
	Store    StoreConfig    `toml:"store"`
	RPC      RPCConfig      `toml:"rpc"`
	Consumer ConsumerConfig `toml:"consumer"`
	Log      logging.Config `toml:"log"`
}

// EngineConfig configures the interpreter.
type EngineConfig struct {
	StackCapacity  int    `toml:"stack_capacity"`
	MaxTensorBytes uint64 `toml:"max_tensor_bytes"`
}

// StoreConfig configures the program store.
type StoreConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	NoSync  bool   `toml:"no_sync"`
}

// RPCConfig configures the JSON-RPC server.
type RPCConfig struct {
	Addr           string   `toml:"addr"`
	ReadTimeout    Duration `toml:"read_timeout"`
	WriteTimeout   Duration `toml:"write_timeout"`
	MaxRequestSize int64    `toml:"max_request_size"`
	MaxBatchSize   int      `toml:"max_batch_size"`
	EnableCORS     bool     `toml:"enable_cors"`
	LogRequests    bool     `toml:"log_requests"`
}

// ConsumerConfig configures delivery channels.
type ConsumerConfig struct {
	// ListenAddr enables the gRPC delivery server when set.
	ListenAddr string `toml:"listen_addr"`

	// Mailboxes are created at startup and shared by every execution.
	Mailboxes   []string `toml:"mailboxes"`
	MailboxSize int      `toml:"mailbox_size"`

	Remotes []RemoteConfig `toml:"remote"`
}

// RemoteConfig forwards some targets to a peer.
type RemoteConfig struct {
	Endpoint  string   `toml:"endpoint"`
	Targets   []string `toml:"targets"`
	QueueSize int      `toml:"queue_size"`
	Timeout   Duration `toml:"timeout"`
	TLS       bool     `toml:"tls"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DataDir: defaultDataDir(),
		Engine: EngineConfig{
			StackCapacity:  engine.DefaultStackCapacity,
			MaxTensorBytes: engine.DefaultMaxTensorBytes,
		},
		Store: StoreConfig{
			Backend: programstore.BackendMemory,
		},
		RPC: RPCConfig{
			Addr:           "127.0.0.1:8899",
			ReadTimeout:    Duration{30 * time.Second},
			WriteTimeout:   Duration{30 * time.Second},
			MaxRequestSize: 64 << 20,
			MaxBatchSize:   100,
			EnableCORS:     true,
		},
		Consumer: ConsumerConfig{
			MailboxSize: 64,
		},
		Log: logging.DefaultConfig(),
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tensorvm"
	}
	return filepath.Join(home, ".tensorvm")
}

// Load reads a TOML file over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// StorePath returns the store location, derived from DataDir when
// Store.Path is empty.
func (c Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	switch c.Store.Backend {
	case programstore.BackendBolt:
		return filepath.Join(c.DataDir, "programs.db")
	case programstore.BackendBadger:
		return filepath.Join(c.DataDir, "programs")
	}
	return ""
}

// ProgramStore returns the program store configuration.
func (c Config) ProgramStore() programstore.Config {
	return programstore.Config{
		Backend: c.Store.Backend,
		Path:    c.StorePath(),
		NoSync:  c.Store.NoSync,
	}
}

// Interpreter returns the interpreter options described by the engine
// section.
func (c Config) Interpreter() engine.Options {
	return engine.Options{
		StackCapacity:  c.Engine.StackCapacity,
		MaxTensorBytes: c.Engine.MaxTensorBytes,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Engine.StackCapacity <= 0 {
		return fmt.Errorf("%w: engine.stack_capacity must be positive", ErrInvalidConfig)
	}
	if c.Engine.MaxTensorBytes == 0 {
		return fmt.Errorf("%w: engine.max_tensor_bytes must be positive", ErrInvalidConfig)
	}

	switch c.Store.Backend {
	case programstore.BackendMemory:
	case programstore.BackendBolt, programstore.BackendBadger:
		if c.StorePath() == "" {
			return fmt.Errorf("%w: store.path or data_dir is required for %s", ErrInvalidConfig, c.Store.Backend)
		}
	default:
		return fmt.Errorf("%w: unknown store.backend %q", ErrInvalidConfig, c.Store.Backend)
	}

	if c.RPC.Addr == "" {
		return fmt.Errorf("%w: rpc.addr is required", ErrInvalidConfig)
	}
	if c.RPC.MaxRequestSize <= 0 {
		return fmt.Errorf("%w: rpc.max_request_size must be positive", ErrInvalidConfig)
	}

	seen := make(map[string]bool)
	for _, name := range c.Consumer.Mailboxes {
		if name == "" || seen[name] {
			return fmt.Errorf("%w: consumer.mailboxes has empty or duplicate name %q", ErrInvalidConfig, name)
		}
		seen[name] = true
	}
	for i, r := range c.Consumer.Remotes {
		if r.Endpoint == "" {
			return fmt.Errorf("%w: consumer.remote[%d].endpoint is required", ErrInvalidConfig, i)
		}
		if len(r.Targets) == 0 {
			return fmt.Errorf("%w: consumer.remote[%d].targets is empty", ErrInvalidConfig, i)
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	return nil
}
