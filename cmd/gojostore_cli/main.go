package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/sushant-115/gojostore/config"
	"github.com/sushant-115/gojostore/pkg/logger"
	"github.com/sushant-115/gojostore/pkg/telemetry"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file (defaults are used when empty)")
	dataDir    = flag.String("data_dir", "", "Overrides storage.data_dir")
	poolSize   = flag.Int("pool_size", 0, "Overrides storage.pool_size")
)

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return cfg, err
		}
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *poolSize > 0 {
		cfg.Storage.PoolSize = *poolSize
	}
	return cfg, cfg.Validate()
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	zlogger, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zlogger.Sync() }()

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		zlogger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			zlogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	sh, err := newShell(cfg.Storage, zlogger, tel.Tracer, tel.Meter)
	if err != nil {
		zlogger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	zlogger.Info("GojoStore CLI started",
		zap.String("session", sh.sessionID),
		zap.String("dataDir", cfg.Storage.DataDir),
		zap.Int("poolSize", cfg.Storage.PoolSize),
		zap.Int("pageSize", cfg.Storage.PageSize),
		zap.String("metricsAddr", tel.MetricsAddr))

	ctx := context.Background()
	if args := flag.Args(); len(args) > 0 {
		runErr := sh.execute(ctx, args, os.Stdout)
		if err := sh.close(); err != nil {
			zlogger.Error("Failed to close storage", zap.Error(err))
		}
		if runErr != nil && !errors.Is(runErr, errExit) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
			os.Exit(1)
		}
		return
	}

	if err := interactive(ctx, sh, cfg.Storage.DataDir); err != nil {
		zlogger.Error("Interactive session failed", zap.Error(err))
	}
	if err := sh.close(); err != nil {
		zlogger.Error("Failed to close storage", zap.Error(err))
	}
}

func interactive(ctx context.Context, sh *shell, dir string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gojostore> ",
		HistoryFile:     filepath.Join(dir, ".gojostore_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("GojoStore CLI (interactive mode). Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		args := strings.Fields(strings.TrimSpace(line))
		err = sh.execute(ctx, args, os.Stdout)
		if errors.Is(err, errExit) {
			fmt.Println("Exiting GojoStore CLI.")
			return nil
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}
