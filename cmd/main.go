// Package main is the entry point for the capture gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/compresr/capture-gateway/internal/capture"
	"github.com/compresr/capture-gateway/internal/config"
	"github.com/compresr/capture-gateway/internal/gateway"
	"github.com/compresr/capture-gateway/internal/monitoring"
)

// Version is set at build time via ldflags.
var Version = "v0.1.0"

const appName = "capture-gateway"

// loadEnvFiles loads .env from standard locations.
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	configEnv := filepath.Join(homeDir, ".config", appName, ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Local .env does not override values already set
	_ = godotenv.Load()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve", "start":
			runGatewayServer(os.Args[2:])
			return
		case "version", "-v", "--version":
			fmt.Printf("%s %s\n", appName, Version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}

	runGatewayServer(os.Args[1:])
}

// resolveServeConfig resolves the config for the serve command.
// Checks: user flag -> filesystem locations -> embedded config.
func resolveServeConfig(userConfig string) ([]byte, string, error) {
	if userConfig != "" {
		data, err := os.ReadFile(userConfig)
		if err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", userConfig)
		}
		return data, userConfig, nil
	}

	var searchPaths []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".config", appName, "config.yaml"))
	}
	searchPaths = append(searchPaths, "configs/config.yaml")

	for _, path := range searchPaths {
		if data, err := os.ReadFile(path); err == nil {
			return data, path, nil
		}
	}

	if data, err := getEmbeddedConfig("config"); err == nil {
		return data, "(embedded) config.yaml", nil
	}

	return nil, "", fmt.Errorf("no config file found")
}

// applyServeFlags lets command line flags override the loaded config.
func applyServeFlags(cfg *config.Config, debug bool, captureDir string) {
	if debug {
		cfg.Monitoring.LogLevel = "debug"
	}
	if captureDir != "" {
		cfg.DebugLogging = config.DebugLoggingConfig{Enabled: true, OutputDir: captureDir}
	}
}

// runGatewayServer starts the gateway proxy server.
func runGatewayServer(args []string) {
	loadEnvFiles()

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	captureDir := fs.String("capture-dir", "", "enable payload capture into this directory")
	_ = fs.Parse(args)

	configData, configSource, err := resolveServeConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("No config file found. Specify --config path")
	}

	cfg, err := config.LoadFromBytes(configData)
	if err != nil {
		log.Fatal().Err(err).Str("config", configSource).Msg("failed to load configuration")
	}
	applyServeFlags(cfg, *debug, *captureDir)

	logger := monitoring.Global(monitoring.LoggerConfigFrom(cfg.Monitoring))

	log.Info().
		Str("version", Version).
		Str("config", configSource).
		Str("upstream", cfg.Upstream.BaseURL).
		Bool("debug_logging", cfg.DebugLogging.Enabled).
		Str("capture_dir", cfg.DebugLogging.OutputDir).
		Msg("capture gateway starting")

	metrics := monitoring.NewMetricsCollector()
	writer := capture.NewWriter(
		capture.WithLogger(logger.Zerolog()),
		capture.WithMetrics(metrics),
	)
	gw := gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithCaptureWriter(writer),
	)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := gw.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("gateway shutdown error")
		}
	}()

	if err := gw.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("gateway error")
	}

	log.Info().Interface("stats", metrics.Stats()).Msg("capture gateway stopped")
}

func printHelp() {
	fmt.Println("capture-gateway - streaming LLM proxy with on-disk payload capture")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  capture-gateway [serve] [--config FILE] [--debug] [--capture-dir DIR]")
	fmt.Println("  capture-gateway version")
	fmt.Println()
	fmt.Println("Captures are written as {timestamp}_{request_id}_{category}.json.")
	fmt.Println("Without --capture-dir or debug_logging.output_dir they go to")
	fmt.Printf("  <user config dir>/%s/%s\n", appName, capture.DefaultSubdir)
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  SESSION_DEBUG_LOG_DIR   enable capture into this directory")
}
