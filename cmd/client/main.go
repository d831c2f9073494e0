package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callrelay/internal/adapters/rtc"
	"github.com/dkeye/callrelay/internal/adapters/tui"
	"github.com/dkeye/callrelay/internal/client"
	"github.com/dkeye/callrelay/internal/config"
	"github.com/dkeye/callrelay/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	id := domain.Identity(cfg.Client.Identity)
	if len(os.Args) > 1 {
		id = domain.Identity(os.Args[1])
	}
	if id == "" {
		id = domain.NewIdentity()
	}
	if err := id.Validate(); err != nil {
		log.Fatal().Err(err).Str("identity", string(id)).Msg("invalid identity")
	}

	// The terminal belongs to the UI from here on.
	var out io.Writer = io.Discard
	if cfg.Client.LogFile != "" {
		f, err := os.OpenFile(cfg.Client.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.Client.LogFile).Msg("failed to open log file")
		}
		defer f.Close()
		out = f
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	media, err := rtc.NewFactory(cfg.Client.ICEServers)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build media engine")
	}

	conn := client.NewConnector(cfg.Client.RelayURL, id, cfg.Client.ReconnectInterval)

	var ui *tui.UI
	driver := client.NewDriver(client.Options{
		Identity:    id,
		Signaler:    conn,
		Media:       media,
		Capture:     rtc.SilenceSource{},
		Notify:      func(n client.Notification) { ui.Notify(n) },
		CallTimeout: cfg.Client.CallTimeout,
	})
	ui = tui.New(driver, id, tea.WithAltScreen(), tea.WithContext(ctx))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		driver.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		conn.Run(ctx, driver)
	}()

	log.Info().Str("identity", string(id)).Str("relay", cfg.Client.RelayURL).Msg("client started")
	if err := ui.Run(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("ui exited")
	}
	cancel()
	wg.Wait()
	log.Info().Msg("client stopped")
}
