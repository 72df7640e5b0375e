// tensorvm: tensor-operation bytecode interpreter daemon.
//
// The daemon serves a JSON-RPC API for executing and storing programs and,
// optionally, a gRPC endpoint that accepts deliveries from peer engines.
// With -run it executes a single program file and exits.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fortiblox/tensorvm/internal/config"
	"github.com/fortiblox/tensorvm/internal/logging"
	"github.com/fortiblox/tensorvm/pkg/consumer"
	"github.com/fortiblox/tensorvm/pkg/engine"
	"github.com/fortiblox/tensorvm/pkg/loader"
	"github.com/fortiblox/tensorvm/pkg/programstore"
	"github.com/fortiblox/tensorvm/pkg/rpc"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags. Flags that are set override the config file.
var (
	configPath   = flag.String("config", "", "Path to tensorvm.toml")
	rpcAddr      = flag.String("rpc-addr", "", "RPC server listen address")
	consumerAddr = flag.String("consumer-addr", "", "gRPC delivery server listen address (empty disables)")
	storeBackend = flag.String("store", "", "Program store backend: memory, bolt, badger")
	dataDir      = flag.String("data-dir", "", "Data directory for the program store")
	logLevel     = flag.String("log-level", "", "Log level: debug, info, warn, error")
	runFile      = flag.String("run", "", "Execute a program file once and print delivered results")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// gcInterval is how often the badger value log is compacted.
const gcInterval = 10 * time.Minute

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("tensorvm %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tensorvm: %v\n", err)
		os.Exit(2)
	}

	logger, _, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tensorvm: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	if *runFile != "" {
		ok, err := runOnce(cfg, logger, *runFile, os.Stdout)
		if err != nil {
			logger.Error("run failed", "file", *runFile, "error", err)
			os.Exit(1)
		}
		if !ok {
			os.Exit(1)
		}
		return
	}

	if err := runDaemon(cfg, logger); err != nil {
		logger.Error("daemon stopped", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies set flags.
func loadConfig() (config.Config, error) {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return cfg, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "rpc-addr":
			cfg.RPC.Addr = *rpcAddr
		case "consumer-addr":
			cfg.Consumer.ListenAddr = *consumerAddr
		case "store":
			cfg.Store.Backend = *storeBackend
		case "data-dir":
			cfg.DataDir = *dataDir
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})

	return cfg, cfg.Validate()
}

// runOnce executes a raw or zstd-compressed program file. It reports
// whether the program completed without error.
func runOnce(cfg config.Config, logger *slog.Logger, path string, out io.Writer) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	program, err := loader.Unpack(data)
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}

	opts := cfg.Interpreter()
	opts.Logger = logger
	rpcConfig := rpc.DefaultConfig()
	rpcConfig.Logger = logger
	server := rpc.New(rpcConfig, engine.NewInterpreter(opts), programstore.NewMemoryStore(), nil)

	result, err := server.Execute(program, loader.EncodingBase64)
	if err != nil {
		return false, err
	}

	enc := json.NewEncoder(out)
	for _, msg := range result.Results {
		if err := enc.Encode(msg); err != nil {
			return false, err
		}
	}
	if result.Error != nil {
		logger.Error("execution failed",
			"kind", result.Error.Kind,
			"instruction", result.Error.Instruction,
			"reason", result.Error.Reason)
		return false, nil
	}
	logger.Info("execution complete", "executed", result.Executed, "delivered", result.Delivered)
	return true, nil
}

func runDaemon(cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting tensorvm", "version", Version, "commit", GitCommit)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if cfg.Store.Backend != programstore.BackendMemory {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := programstore.Open(cfg.ProgramStore())
	if err != nil {
		return fmt.Errorf("open program store: %w", err)
	}
	defer store.Close()
	logger.Info("program store opened", "backend", cfg.Store.Backend, "path", cfg.StorePath())

	var wg sync.WaitGroup
	defer wg.Wait()

	if gc, ok := store.(*programstore.BadgerStore); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runGC(ctx, gc, logger)
		}()
	}

	// Shared mailboxes receive from local programs and from peers
	shared := consumer.NewMailboxes()
	for _, name := range cfg.Consumer.Mailboxes {
		ch, err := shared.Register(name, cfg.Consumer.MailboxSize)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(name string, ch <-chan consumer.Delivery) {
			defer wg.Done()
			logDeliveries(ctx, logger, name, ch)
		}(name, ch)
	}
	defer closeMailboxes(shared)
	if names := shared.Names(); len(names) > 0 {
		logger.Info("shared mailboxes registered", "names", names)
	}

	endpoints := []consumer.Endpoint{shared}
	for _, rc := range cfg.Consumer.Remotes {
		remote, err := consumer.DialRemote(ctx, consumer.RemoteConfig{
			Endpoint:  rc.Endpoint,
			Targets:   rc.Targets,
			QueueSize: rc.QueueSize,
			Timeout:   rc.Timeout.Duration,
			UseTLS:    rc.TLS,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("dial remote %s: %w", rc.Endpoint, err)
		}
		defer remote.Close()
		endpoints = append(endpoints, remote)
		logger.Info("remote consumer configured", "endpoint", rc.Endpoint, "targets", rc.Targets)
	}

	if cfg.Consumer.ListenAddr != "" {
		srv := consumer.NewServer(shared, consumer.ServerConfig{Logger: logger})
		if err := srv.Start(cfg.Consumer.ListenAddr); err != nil {
			return err
		}
		defer srv.Stop()
		logger.Info("consumer server listening", "addr", cfg.Consumer.ListenAddr)
	}

	opts := cfg.Interpreter()
	opts.Logger = logger
	interp := engine.NewInterpreter(opts)

	server := rpc.New(rpc.Config{
		Addr:           cfg.RPC.Addr,
		ReadTimeout:    cfg.RPC.ReadTimeout.Duration,
		WriteTimeout:   cfg.RPC.WriteTimeout.Duration,
		MaxRequestSize: cfg.RPC.MaxRequestSize,
		MaxBatchSize:   cfg.RPC.MaxBatchSize,
		EnableCORS:     cfg.RPC.EnableCORS,
		LogRequests:    cfg.RPC.LogRequests,
		Version:        Version,
		Logger:         logger,
	}, interp, store, consumer.NewRouter(endpoints...))

	err = server.Start(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	logger.Info("tensorvm stopped")
	return nil
}

// runGC periodically compacts the badger value log.
func runGC(ctx context.Context, store *programstore.BadgerStore, logger *slog.Logger) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.RunGC(); err != nil && !errors.Is(err, programstore.ErrClosed) {
				logger.Warn("value log gc failed", "error", err)
			}
		}
	}
}

// closeMailboxes unregisters every mailbox, ending their delivery loggers.
func closeMailboxes(boxes *consumer.Mailboxes) {
	for _, name := range boxes.Names() {
		boxes.Unregister(name)
	}
}

// logDeliveries reports messages arriving in a shared mailbox.
func logDeliveries(ctx context.Context, logger *slog.Logger, name string, ch <-chan consumer.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			if d.Message.Tag == engine.TagError {
				logger.Warn("error delivered", "mailbox", name, "reason", d.Message.Reason)
				continue
			}
			logger.Info("tensor delivered", "mailbox", name,
				"bytes", len(d.Message.Data),
				"shape", fmt.Sprint(d.Message.Shape),
				"dtype", fmt.Sprint(d.Message.DType))
		}
	}
}
