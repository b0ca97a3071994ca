package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	go2tvadapters "go2tv.app/render-bridge/internal/adapters/go2tv"
	"go2tv.app/render-bridge/internal/avtransport"
	"go2tv.app/render-bridge/internal/buildinfo"
	"go2tv.app/render-bridge/internal/config"
	"go2tv.app/render-bridge/internal/diagnostics"
	"go2tv.app/render-bridge/internal/discovery"
	"go2tv.app/render-bridge/internal/eventing"
	"go2tv.app/render-bridge/internal/history"
	"go2tv.app/render-bridge/internal/lifecycle"
	"go2tv.app/render-bridge/internal/mcpserver"
	"go2tv.app/render-bridge/internal/playback"
	"go2tv.app/render-bridge/internal/relay"
	"go2tv.app/render-bridge/internal/renderer"
	"go2tv.app/render-bridge/internal/syncloop"
)

const (
	serverName      = "render-bridge"
	shutdownTimeout = 5 * time.Second
)

type selfTestOutput struct {
	Server struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"server"`
	Renderer struct {
		FriendlyName   string `json:"friendly_name"`
		UDN            string `json:"udn"`
		SyncIntervalMS int    `json:"sync_interval_ms"`
		ProbeTimeoutMS int    `json:"probe_timeout_ms"`
	} `json:"renderer"`
	Relay struct {
		Target   string `json:"target"`
		Protocol string `json:"protocol"`
	} `json:"relay"`
	Go2TVAdapters struct {
		DiscoveryWired      bool `json:"discovery_wired"`
		CastWired           bool `json:"cast_wired"`
		DLNAWired           bool `json:"dlna_wired"`
		CallbackServerWired bool `json:"callback_server_wired"`
	} `json:"go2tv_adapters"`
	History struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	} `json:"history"`
	ConfigSources []string           `json:"config_sources"`
	Host          diagnostics.Report `json:"host"`
}

func main() {
	app := &cli.Command{
		Name:    serverName,
		Usage:   "AVTransport media renderer served as MCP tools over stdio",
		Version: buildinfo.Version,
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "relay-target",
				Usage: "Device name, ID or address to relay playback to",
			},
			&cli.StringFlag{
				Name:  "relay-protocol",
				Usage: "Restrict the relay target to chromecast or dlna",
			},
			&cli.BoolFlag{
				Name:  "self-test",
				Usage: "Print the resolved configuration and adapter wiring, then exit",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			historyCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if cmd.IsSet("relay-target") {
		cfg.Relay.Target = strings.TrimSpace(cmd.String("relay-target"))
	}
	if cmd.IsSet("relay-protocol") {
		cfg.Relay.Protocol = strings.ToLower(strings.TrimSpace(cmd.String("relay-protocol")))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, slog.Level) {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q; defaulting to info\n", cfg.Log.Level)
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), level
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	bundle := go2tvadapters.NewBundle()

	if cmd.Bool("self-test") {
		return writeSelfTest(cfg, bundle)
	}

	logger, level := newLogger(cfg)
	logger.Info(
		"renderer_start",
		slog.String("server", serverName),
		slog.String("version", buildinfo.Version),
		slog.String("friendly_name", cfg.Renderer.FriendlyName),
		slog.String("udn", cfg.Renderer.UDN),
		slog.String("log_level", level.String()),
		slog.Any("config_sources", cfg.Sources),
	)

	runCtx, stopSignals := signal.NotifyContext(ctx, lifecycle.TerminationSignals()...)
	defer stopSignals()

	shutdown := lifecycle.NewStack(logger)

	changes := avtransport.NewChangeLog()
	machine := avtransport.NewMachine(changes)
	events := eventing.NewQueue(0)
	shutdown.Push("events", lifecycle.Do(events.Close))
	engines := playback.NewHandle()

	var store *history.Store
	if cfg.HistoryEnabled() {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			// Playback does not depend on the history; keep serving without it.
			logger.Warn("history_unavailable", slog.String("error", err.Error()))
			store = nil
		} else {
			shutdown.Push("history", lifecycle.Func(store.Close))
		}
	}

	rendererCfg := renderer.Config{Logger: logger}
	serverCfg := mcpserver.Config{
		ServerName:    serverName,
		ServerVersion: buildinfo.Version,
		Logger:        logger,
	}
	if store != nil {
		rendererCfg.History = store
		serverCfg.History = store
	}
	dispatcher := renderer.New(machine, engines, events, rendererCfg)

	loop := syncloop.New(engines, machine, changes, events, syncloop.Config{
		Interval:     cfg.SyncInterval(),
		ProbeTimeout: cfg.ProbeTimeout(),
		Logger:       logger,
	})
	loop.Start()
	shutdown.Push("sync_loop", lifecycle.Do(loop.Stop))

	discoverySvc := discovery.NewService(bundle.Discovery, runCtx, logger)
	binder := relay.NewBinder(engines, discoverySvc, relay.Factories{
		Cast:      bundle.CastFactory,
		DLNA:      bundle.DLNAFactory,
		Callbacks: bundle.CallbackServers,
	}, cfg.DiscoveryTimeout(), relay.Options{Logger: logger})
	shutdown.Push("relay", binder.Close)

	serverCfg.Transport = dispatcher
	serverCfg.RelayTargets = discoverySvc
	serverCfg.RelayBinder = binder
	srv := mcpserver.New(os.Stdin, os.Stdout, serverCfg)

	group, groupCtx := errgroup.WithContext(runCtx)
	if cfg.Relay.Target != "" {
		group.Go(func() error {
			bindInitialRelay(groupCtx, logger, binder, cfg.Relay)
			return nil
		})
	}
	sub := events.Subscribe()
	group.Go(func() error {
		logEvents(groupCtx, logger, sub)
		return nil
	})

	// The stdio reader cannot be interrupted, so the server runs outside the
	// group and a signal ends the process without waiting for it.
	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- srv.Run(runCtx)
	}()

	var runErr error
	select {
	case runErr = <-runErrCh:
	case <-runCtx.Done():
		runErr = runCtx.Err()
	}
	if runErr != nil {
		logger.Warn("renderer_stopping", slog.String("reason", runErr.Error()))
	} else {
		logger.Info("renderer_stopping", slog.String("reason", "clean_eof"))
	}
	stopSignals()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	waitErr := group.Wait()
	closeErr := shutdown.Close(shutdownCtx)

	if runErr != nil && errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return errors.Join(runErr, closeErr, waitErr)
}

func bindInitialRelay(ctx context.Context, logger *slog.Logger, binder *relay.Binder, cfg config.RelayConfig) {
	sess, err := binder.Bind(ctx, cfg.Target, cfg.Protocol)
	if err != nil {
		// The renderer keeps serving; play actions are soft failures until
		// a relay is bound.
		logger.Warn("relay_bind_failed",
			slog.String("target", cfg.Target),
			slog.String("protocol", cfg.Protocol),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("relay_ready",
		slog.String("session_id", sess.ID),
		slog.String("device", sess.Device.Name),
		slog.String("protocol", sess.Device.Protocol),
	)
}

func logEvents(ctx context.Context, logger *slog.Logger, sub *eventing.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done:
			return
		case payload := <-sub.Events:
			logger.Debug("last_change", slog.Int("bytes", len(payload)), slog.String("payload", string(payload)))
		}
	}
}

func writeSelfTest(cfg *config.Config, bundle go2tvadapters.Bundle) error {
	var out selfTestOutput
	out.Server.Name = serverName
	out.Server.Version = buildinfo.Version
	out.Renderer.FriendlyName = cfg.Renderer.FriendlyName
	out.Renderer.UDN = cfg.Renderer.UDN
	out.Renderer.SyncIntervalMS = cfg.Renderer.SyncIntervalMS
	out.Renderer.ProbeTimeoutMS = cfg.Renderer.ProbeTimeoutMS
	out.Relay.Target = cfg.Relay.Target
	out.Relay.Protocol = cfg.Relay.Protocol
	out.Go2TVAdapters.DiscoveryWired = bundle.Discovery != nil
	out.Go2TVAdapters.CastWired = bundle.CastFactory != nil
	out.Go2TVAdapters.DLNAWired = bundle.DLNAFactory != nil
	out.Go2TVAdapters.CallbackServerWired = bundle.CallbackServers != nil
	out.History.Enabled = cfg.HistoryEnabled()
	out.History.Path = cfg.History.Path
	if out.History.Enabled && out.History.Path == "" {
		if p, err := history.DefaultPath(); err == nil {
			out.History.Path = p
		}
	}
	out.ConfigSources = cfg.Sources
	if out.History.Enabled {
		out.Host = diagnostics.Detect(out.History.Path)
	} else {
		out.Host = diagnostics.Detect("")
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List the sources the renderer started",
		Flags: []cli.Flag{
			configFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of launches to list",
				Value: 20,
			},
			&cli.DurationFlag{
				Name:  "prune",
				Usage: "Delete launches older than this before listing (e.g. 720h)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: showHistory,
	}
}

func showHistory(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	if !cfg.HistoryEnabled() {
		return errors.New("launch history is disabled in the configuration")
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if age := cmd.Duration("prune"); age > 0 {
		removed, err := store.Prune(ctx, time.Now().Add(-age))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "pruned %d launch(es)\n", removed)
	}

	entries, err := store.Recent(ctx, int(cmd.Int("limit")))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No launches recorded.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-14s  %s\n", e.At.Local().Format(time.DateTime), humanize.Time(e.At), e.URI)
	}
	return nil
}
