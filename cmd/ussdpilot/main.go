package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhandras/ussdpilot/internal/cli"
	"github.com/bhandras/ussdpilot/internal/config"
	"github.com/bhandras/ussdpilot/internal/version"
	"github.com/bhandras/ussdpilot/pkg/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "help", "--help", "-h":
		printUsage()
		return nil
	case "version", "--version", "-v":
		fmt.Println("ussdpilot " + version.Full())
		return nil
	}

	fs := flag.NewFlagSet("ussdpilot "+cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var overrides config.Overrides
	configPath := fs.String("config", "", "YAML config file")
	logLevel := fs.String("log-level", "", "Log level (trace|debug|info|warn|error)")
	debug := fs.Bool("debug", false, "Enable debug logging")

	var (
		demo    *bool
		addr    *string
		dbPath  *string
		subject *string
		ttl     *time.Duration
		baseURL *string
	)
	switch cmd {
	case "serve":
		demo = fs.Bool("demo", false, "Run sessions against the built-in simulator")
		addr = fs.String("addr", "", "Listen address")
		dbPath = fs.String("db", "", "Journal database path (empty keeps the configured one)")
	case "simulate":
	case "token", "pair":
		subject = fs.String("subject", "console", "Token subject")
		ttl = fs.Duration("ttl", 30*24*time.Hour, "Token lifetime (0 for no expiry)")
		if cmd == "pair" {
			baseURL = fs.String("url", "", "Server base URL (default derived from the listen address)")
		}
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	if err := fs.Parse(rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage()
			return nil
		}
		return err
	}

	if *configPath != "" {
		overrides.ConfigPath = configPath
	}
	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}
	if *debug {
		overrides.Debug = debug
	}
	if addr != nil && *addr != "" {
		overrides.Addr = addr
	}
	if dbPath != nil && *dbPath != "" {
		overrides.DatabasePath = dbPath
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		return cli.ServeCommand(ctx, cfg, *demo)
	case "simulate":
		fmt.Println("LOOP simulator - type replies and press enter (the PIN is entered automatically).")
		return cli.SimulateCommand(ctx, cfg, os.Stdin, os.Stdout)
	case "token":
		return cli.TokenCommand(cfg, *subject, *ttl, os.Stdout)
	default:
		url := *baseURL
		if url == "" {
			url = cli.BaseURL(cfg.Addr)
		}
		return cli.PairCommand(cfg, url, *subject, *ttl, os.Stdout)
	}
}

func setupLogging(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.Debug && level > logger.LevelDebug {
		level = logger.LevelDebug
	}
	logger.SetLevel(level)
	logger.SetColor(isTerminal(os.Stderr))
	return nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func printUsage() {
	fmt.Println(`ussdpilot - automation engine for USSD menu sessions

Usage:
  ussdpilot serve [--demo] [--addr :8080] [--db path]   Run the HTTP API
  ussdpilot simulate                                    Walk the LOOP menu in this terminal
  ussdpilot token [--subject name] [--ttl 720h]         Mint an API token
  ussdpilot pair [--url http://host:8080]               Show the updates URL as a QR code
  ussdpilot version                                     Show version information
  ussdpilot help                                        Show this help message

Common flags:
  --config      YAML config file (also USSDPILOT_CONFIG)
  --log-level   trace|debug|info|warn|error
  --debug       Enable debug logging

Environment Variables:
  PORT / USSDPILOT_ADDR          Listen address
  USSDPILOT_DATABASE_PATH        Journal database (empty disables it)
  USSDPILOT_API_SECRET           Enables bearer token auth
  USSDPILOT_ALLOWED_ORIGINS      Comma-separated CORS origins
  USSDPILOT_DIAL_CODE            Short code to dial (default *219#)
  USSDPILOT_AUTO_PIN             PIN submitted at the PIN prompt (empty disables)
  USSDPILOT_CONFIRM_MODE         pin|token
  USSDPILOT_STRATEGY             gentle|aggressive
  USSDPILOT_OTLP_ENDPOINT        OTLP/HTTP trace endpoint
  DEBUG                          Enable debug logging (true/1)`)
}
