package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/mattjoyce/convoy/internal/api"
	"github.com/mattjoyce/convoy/internal/auth"
	"github.com/mattjoyce/convoy/internal/config"
	"github.com/mattjoyce/convoy/internal/dispatch"
	"github.com/mattjoyce/convoy/internal/events"
	"github.com/mattjoyce/convoy/internal/lock"
	"github.com/mattjoyce/convoy/internal/log"
	"github.com/mattjoyce/convoy/internal/plugins"
	"github.com/mattjoyce/convoy/internal/scheduler"
	"github.com/mattjoyce/convoy/internal/state"
	"github.com/mattjoyce/convoy/internal/storage"
	"github.com/mattjoyce/convoy/internal/transport"
	"github.com/mattjoyce/convoy/internal/tui/watch"
)

const banner = `
   ___ ___  _ ____   _____  _   _
  / __/ _ \| '_ \ \ / / _ \| | | |
 | (_| (_) | | | \ V / (_) | |_| |
  \___\___/|_| |_|\_/ \___/ \__, |
                            |___/
`

func printBanner(w io.Writer, cfg *config.Config, path string) {
	color.New(color.FgCyan).Fprint(w, banner)
	green := color.New(color.FgGreen)
	line := func(label, value string) {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "%-11s %s\n", label+":", value)
	}
	line("Config", path)
	line("Transport", cfg.Transport.Kind)
	line("Data", cfg.DataDir)
	line("Plugins", fmt.Sprintf("%d loaded", len(cfg.Loaded())))
	if cfg.API.Enabled {
		line("API", cfg.API.Listen)
	}
	fmt.Fprintln(w)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := config.ResolvePath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	printBanner(os.Stderr, cfg, path)
	logger.Info("convoy starting", "version", version, "config", path)

	instance, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		logger.Error("failed to acquire instance lock", "data_dir", cfg.DataDir, "error", err)
		return 1
	}
	defer instance.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, path); err != nil {
		logger.Error("convoy failed", "error", err)
		return 1
	}
	logger.Info("convoy stopped")
	return 0
}

// serve wires every component and blocks until ctx is done or one of them
// fails.
func serve(ctx context.Context, cfg *config.Config, path string) error {
	logger := log.WithComponent("main")

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	hub := events.NewHub(256)
	messages := state.NewMessageLog(db)

	tr, err := transport.Open(ctx, cfg.Transport)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	defer tr.Close()
	logger.Info("transport connected", "kind", cfg.Transport.Kind)

	catalog, err := plugins.Catalog()
	if err != nil {
		return err
	}
	d, err := dispatch.New(ctx, dispatch.Options{
		Config:   cfg,
		Catalog:  catalog,
		Sender:   tr,
		Store:    config.NewStore(path, cfg.Enabled),
		State:    state.NewStore(db),
		Messages: messages,
		Events:   hub,
	})
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return err
	}

	sched := scheduler.New(cfg.Schedules, d)
	if err := sched.Start(ctx); err != nil {
		d.Stop(context.WithoutCancel(ctx))
		return fmt.Errorf("scheduler: %w", err)
	}
	defer sched.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	apiErr := make(chan error, 1)
	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		srv := api.New(api.Config{
			Listen:     cfg.API.Listen,
			APIKey:     cfg.API.Auth.APIKey,
			Tokens:     tokens,
			HookSecret: cfg.API.HookSecret,
		}, d, messages, hub, log.WithComponent("api"))
		go func() {
			if err := srv.Start(ctx); err != nil {
				apiErr <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- d.Run(ctx, tr)
	}()

	logger.Info("convoy running (press Ctrl+C to stop)")
	var failure error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case failure = <-apiErr:
	case failure = <-runErr:
		return failure
	}

	// Run stops the dispatcher on its way out; wait for that before the
	// transport and database close.
	cancel()
	<-runErr
	return failure
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "API URL")
	apiKey := fs.String("api-key", os.Getenv("CONVOY_API_KEY"), "Bearer token with events:ro")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or CONVOY_API_KEY.")
		return 1
	}

	if err := watch.Run(context.Background(), *apiURL, *apiKey); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
