// rcond is a standalone RCON server. It authenticates remote console
// clients against a shared secret, acknowledges their commands, and
// exposes session activity through an audit log, a REST API and MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcond/internal/api"
	"github.com/energizer-project/rcond/internal/cli"
	"github.com/energizer-project/rcond/internal/command"
	"github.com/energizer-project/rcond/internal/config"
	"github.com/energizer-project/rcond/internal/db"
	"github.com/energizer-project/rcond/internal/events"
	"github.com/energizer-project/rcond/internal/network"
	"github.com/energizer-project/rcond/internal/scheduler"
	"github.com/energizer-project/rcond/internal/secret"
	"github.com/energizer-project/rcond/internal/session"
	"github.com/energizer-project/rcond/internal/telemetry"
	"github.com/energizer-project/rcond/internal/util"
)

const Banner = `
  rcond v%s
  Remote console server
`

func main() {
	fmt.Printf(Banner, api.Version)
	fmt.Println()

	// Defaults until the config is loaded
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", api.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting rcond")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	app := cfg.GetApplicationData()
	if err := util.InitLogger(util.LogConfig{
		Level:      app.Logging.Level,
		Directory:  app.Logging.Directory,
		MaxBackups: app.Logging.MaxBackups,
		Console:    true,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	if cfg.IsFirstRun() {
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	rcon := cfg.GetRCON()
	app = cfg.GetApplicationData()

	if !config.IsPortAvailable(rcon.Port) {
		log.Warn().Int("port", rcon.Port).Msg("RCON port appears to be in use")
	}

	rconSecret, err := secret.FromConfig(rcon.Password, rcon.PasswordHash)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RCON secret")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	var audit *db.AuditLog
	if app.Audit.Enabled {
		audit, err = db.NewAuditLog(app.Audit.DatabasePath)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open audit log, auditing disabled")
			audit = nil
		} else {
			audit.Subscribe(eventBus)
		}
	}

	registry := network.NewConnectionRegistry(eventBus)

	tcpListener := network.NewTCPListener(network.ListenerConfig{
		Addr:           rcon.Addr(),
		MaxConnections: rcon.MaxConnections,
		Session: session.Config{
			Secret:        rconSecret,
			MaxPacketSize: rcon.MaxPacketSize,
			IdleTimeout:   rcon.IdleTimeout(),
			WriteTimeout:  rcon.WriteTimeout(),
		},
	}, eventBus, registry, command.NewRecorder(eventBus))

	var apiServer *api.Server
	if app.API.Enabled {
		apiServer = api.NewServer(cfg, eventBus, registry, audit, rconSecret)
	}

	var mqttHandler *telemetry.MQTTHandler
	if app.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, api.Version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	var reapers []scheduler.Reaper
	if apiServer != nil {
		reapers = append(reapers, apiServer.RateLimiter())
	}
	sched := scheduler.NewScheduler(cfg, registry, audit, reapers...)

	cliHandler := cli.NewCLI(cfg, eventBus, registry, audit, os.Stdin, os.Stdout)

	shutdownCh := make(chan struct{})
	var shutdownOnce sync.Once
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		shutdownOnce.Do(func() { close(shutdownCh) })
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", rcon.Addr()).Msg("starting RCON listener")
		if err := tcpListener.Start(ctx); err != nil {
			log.Error().Err(err).Msg("RCON listener failed")
			errCh <- fmt.Errorf("rcon listener: %w", err)
		}
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", app.API.Port).Msg("starting management API")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("management API failed (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	// Not tracked by wg: a blocked stdin read must not hold up shutdown.
	go cliHandler.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()
	registry.CloseAll()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()
	if audit != nil {
		audit.Close()
	}

	log.Info().Msg("rcond stopped")
}
