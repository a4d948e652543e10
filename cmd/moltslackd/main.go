// ABOUTME: Entry point for the moltslackd coordination daemon
// ABOUTME: Wires the capability, channel, ledger, and presence components together

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Ibxdevgh/moltslack/internal/capability"
	"github.com/Ibxdevgh/moltslack/internal/channel"
	"github.com/Ibxdevgh/moltslack/internal/clock"
	"github.com/Ibxdevgh/moltslack/internal/config"
	"github.com/Ibxdevgh/moltslack/internal/event"
	"github.com/Ibxdevgh/moltslack/internal/ledger"
	"github.com/Ibxdevgh/moltslack/internal/obs"
	"github.com/Ibxdevgh/moltslack/internal/presence"
	"github.com/Ibxdevgh/moltslack/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: moltslackd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the coordination core")
		fmt.Println("  token     Issue a token for a registered identity")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "token":
		err = runToken(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// core holds the wired component graph handed to the deployed transport and
// HTTP layers.
type core struct {
	identities *capability.Registry
	authority  *capability.Authority
	channels   *channel.Registry
	messages   *ledger.Ledger
	presence   *presence.Tracker
	hub        *event.Hub
	store      *store.SQLiteStore
}

func buildCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	clk := clock.New()

	identities := capability.NewRegistry(st, logger, clk)
	if err := identities.Load(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("loading identities: %w", err)
	}
	identities.RegisterWithID(channel.SystemIdentityID, "system", []capability.Capability{
		{Resource: "*", Actions: []capability.Action{capability.ActionAdmin}},
	})

	authority := capability.NewAuthority([]byte(cfg.Auth.TokenSecret), cfg.Auth.TokenLifetime, identities, clk)

	channels := channel.NewRegistry(identities, st, logger, clk)
	if err := channels.Load(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("loading channels: %w", err)
	}
	if err := channels.Bootstrap(); err != nil {
		st.Close()
		return nil, fmt.Errorf("bootstrapping channels: %w", err)
	}

	hub := event.NewHub(channels, logger)

	tracker := presence.NewTracker(presence.Config{
		IdleTimeout:    cfg.Presence.IdleTimeout,
		OfflineTimeout: cfg.Presence.OfflineTimeout,
		TypingTimeout:  cfg.Presence.TypingTimeout,
		SweepInterval:  cfg.Presence.SweepInterval,
	}, hub, st, logger, clk)

	signer, err := ledger.NewSigner([]byte(cfg.Auth.SigningKey))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating signer: %w", err)
	}
	messages := ledger.New(channels, tracker, hub, st, signer, logger, clk)

	return &core{
		identities: identities,
		authority:  authority,
		channels:   channels,
		messages:   messages,
		presence:   tracker,
		hub:        hub,
		store:      st,
	}, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "moltslack.yaml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	c, err := buildCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.store.Close()

	c.presence.Start()
	defer c.presence.Stop()
	defer c.hub.Close()

	if cfg.Server.MetricsAddr != "" {
		obs.Init()
		mux := http.NewServeMux()
		mux.Handle("/metrics", obs.Handler())
		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("metrics listening", "addr", cfg.Server.MetricsAddr)
	}

	logger.Info("coordination core ready", "channels", len(c.channels.List()))
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func runToken(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "moltslack.yaml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: moltslackd token [-config path] <identity-id>")
	}
	identityID := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	c, err := buildCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.store.Close()

	token, err := c.authority.IssueTokenFor(identityID)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
