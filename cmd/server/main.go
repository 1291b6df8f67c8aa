// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/cratebox/internal/api/connect"
	"github.com/osa030/cratebox/internal/api/ws"
	"github.com/osa030/cratebox/internal/app/session"
	"github.com/osa030/cratebox/internal/infra/analytics"
	"github.com/osa030/cratebox/internal/infra/audio"
	"github.com/osa030/cratebox/internal/infra/catalog"
	"github.com/osa030/cratebox/internal/infra/config"
	"github.com/osa030/cratebox/internal/infra/cratestore"
	"github.com/osa030/cratebox/internal/infra/frame"
	"github.com/osa030/cratebox/internal/infra/logger"
	"github.com/osa030/cratebox/internal/infra/mpris"
)

// NowPlayingPath is where the websocket feed is served.
const NowPlayingPath = "/ws/now-playing"

var (
	app        = kingpin.New("cratebox-server", "cratebox preview player server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: from config)").String()

	// check-config command
	checkConfigCmd = app.Command("check-config", "Validate the config file and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Initialize logger for config loading
	if err := logger.Init(loggerConfig(config.LogConfig{Output: "stdout", Level: "info"})); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == checkConfigCmd.FullCommand() {
		fmt.Println("config OK")
		return
	}

	// Re-initialize logger from config
	if err := logger.Init(loggerConfig(cfg.Log)); err != nil {
		zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
	}

	// Run server (defer ensures shutdown hook is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// loggerConfig applies command-line overrides to the configured log settings.
func loggerConfig(lc config.LogConfig) logger.Config {
	c := logger.Config{
		Output:     lc.Output,
		Level:      lc.Level,
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAgeDays: lc.MaxAgeDays,
	}
	if *verbose {
		c.Level = "debug"
	}
	if *logfile != "" {
		c.Output = *logfile
	}
	return c
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	sessionMgr, closeMedia, err := newSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeMedia()

	if err := sessionMgr.Start(); err != nil {
		return errors.Wrap(err, "failed to start session")
	}

	// Create HTTP mux
	mux := http.NewServeMux()

	// Register services
	playerPath, playerHandler := apiconnect.NewPlayerServiceHandler(apiconnect.NewPlayerService(sessionMgr, cfg))
	mux.Handle(playerPath, playerHandler)
	mux.Handle(NowPlayingPath, ws.NewHandler(sessionMgr))

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	// Start server
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		// Signal that we're about to start listening
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Wait for server to start listening
	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	// Execute startup hook if configured (after server is running)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	// Stop session first to terminate active streams
	if err := sessionMgr.Stop(); err != nil {
		zlog.Error().Msgf("Failed to stop session: %v", err)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// newSession wires the session manager from config.
// The returned function releases the media session, if one was registered.
func newSession(ctx context.Context, cfg *config.Config) (*session.Manager, func(), error) {
	closeMedia := func() {}

	chain, err := catalog.NewProviderChainFromConfig(ctx, cfg.Catalog)
	if err != nil {
		return nil, closeMedia, errors.Wrap(err, "failed to create catalog provider chain")
	}

	crates, err := cratestore.New(ctx, cfg.Crate)
	if err != nil {
		return nil, closeMedia, errors.Wrap(err, "failed to create crate store")
	}

	var tracker analytics.Tracker = analytics.Nop{}
	if cfg.Analytics.Enabled {
		client, err := analytics.New(analytics.Config{
			Endpoint:   cfg.Analytics.Endpoint,
			SampleRate: cfg.Analytics.SampleRate,
			Timeout:    cfg.Analytics.Timeout(),
		})
		if err != nil {
			return nil, closeMedia, errors.Wrap(err, "failed to create analytics client")
		}
		tracker = client
	}

	newResource, err := audio.NewFactory(audio.Config{
		Driver:          cfg.Audio.Driver,
		SampleRate:      cfg.Audio.SampleRate,
		BufferSize:      time.Duration(cfg.Audio.BufferMs) * time.Millisecond,
		FetchTimeout:    time.Duration(cfg.Audio.FetchTimeoutSec) * time.Second,
		SimulatedLength: time.Duration(cfg.Audio.SimulatedLengthSec) * time.Second,
	})
	if err != nil {
		return nil, closeMedia, errors.Wrap(err, "failed to create audio factory")
	}

	components := session.Components{
		Resource:  newResource,
		Catalog:   chain,
		Crate:     crates,
		Analytics: tracker,
		Frames:    frame.New(cfg.Player.FrameInterval()),
	}

	// A missing session bus only disables the system integration.
	if cfg.MediaSession.Enabled {
		media, err := mpris.New(cfg.MediaSession.Name)
		if err != nil {
			zlog.Warn().Msgf("Media session unavailable: %v", err)
		} else {
			components.Media = media
			closeMedia = func() {
				if err := media.Close(); err != nil {
					zlog.Warn().Msgf("Failed to close media session: %v", err)
				}
			}
		}
	}

	sessionMgr, err := session.NewManager(cfg, components)
	if err != nil {
		closeMedia()
		return nil, func() {}, errors.Wrap(err, "failed to create session manager")
	}
	return sessionMgr, closeMedia, nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
