package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tablesession/internal/adapters/console"
	router "github.com/dkeye/tablesession/internal/adapters/http"
	"github.com/dkeye/tablesession/internal/adapters/media"
	"github.com/dkeye/tablesession/internal/adapters/rtc"
	"github.com/dkeye/tablesession/internal/adapters/ws"
	"github.com/dkeye/tablesession/internal/app"
	"github.com/dkeye/tablesession/internal/app/peer"
	"github.com/dkeye/tablesession/internal/app/playback"
	"github.com/dkeye/tablesession/internal/app/vote"
	"github.com/dkeye/tablesession/internal/config"
	"github.com/dkeye/tablesession/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
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

	self, err := domain.NewClientData(cfg.Name, cfg.ProtocolVersion)
	if err != nil {
		log.Fatal().Err(err).Str("name", cfg.Name).Msg("invalid display name")
	}

	sess := app.NewSession(app.Options{
		Identity:     self,
		AllowRTC:     cfg.AllowRTC,
		ChatLimit:    cfg.ChatLimit,
		ChatInterval: cfg.ChatInterval,
		Policy:       app.PolicyByName(cfg.Backpressure),
	})
	con := console.New(os.Stdout, sess.Identity())
	votes := vote.NewManager(sess, con)

	players := playback.NewManager(playback.Discard{})
	defer players.Close()
	mic := media.NewSilence()
	defer mic.Close()
	engine := peer.NewEngine(peer.Config{
		WebRTC: rtc.WebRTCConfig(rtc.ICEConfig{
			STUN:         cfg.ICEServers,
			TURN:         cfg.TURNServers,
			TURNUsername: cfg.TURNUsername,
			TURNPassword: cfg.TURNPassword,
		}),
		Factory: rtc.Factory,
		Source:  mic,
		Sink:    players,
	}, sess)
	defer engine.Close()

	sess.Register(con, votes, engine)

	if cfg.AllowRTC {
		if err := engine.EnableMedia(ctx); err != nil {
			log.Error().Err(err).Msg("local audio unavailable")
		}
	}

	var srv *http.Server
	if cfg.ControlAddr != "" {
		r := router.SetupRouter(cfg, router.Deps{Session: sess, Votes: votes, Voice: engine, Playback: players})
		srv = &http.Server{Addr: cfg.ControlAddr, Handler: r}
		go func() {
			log.Info().Str("addr", cfg.ControlAddr).Msg("control API started")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("control API error")
			}
		}()
	}

	go readCommands(ctx, os.Stdin, commandTarget{session: sess, votes: votes, voice: engine, quit: cancel})

	runErr := sess.Run(ctx, cfg.ServerAddr, ws.Dialer(ws.Options{
		SendBuffer: cfg.SendBuffer,
		WriteWait:  cfg.WriteWait,
		PingPeriod: cfg.PingPeriod,
		ReadLimit:  cfg.ReadLimit,
	}))

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("control API forced to shutdown")
		}
	}

	if errors.Is(runErr, domain.ErrConnectionLost) {
		log.Error().Err(runErr).Msg("session ended")
		engine.Close()
		players.Close()
		mic.Close()
		os.Exit(1)
	}
	log.Info().Msg("Client exited gracefully")
}
