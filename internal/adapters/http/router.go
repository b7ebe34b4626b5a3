package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tablesession/internal/app"
	"github.com/dkeye/tablesession/internal/app/peer"
	"github.com/dkeye/tablesession/internal/app/playback"
	"github.com/dkeye/tablesession/internal/app/vote"
	"github.com/dkeye/tablesession/internal/config"
	"github.com/dkeye/tablesession/internal/domain"
)

type Session interface {
	Roster() []app.Participant
	SendChat(text string) error
	SendEvent(event any) error
}

type Votes interface {
	View() vote.View
	CastOwn(option int) error
}

type Voice interface {
	EnableMedia(ctx context.Context) error
	MediaState() peer.MediaState
	Sessions() []peer.Info
}

type Playback interface {
	Mute(cid domain.ConnectionID, muted bool)
	Stats() []playback.Stats
}

// Deps are the session parts exposed to a local UI process.
type Deps struct {
	Session  Session
	Votes    Votes
	Voice    Voice
	Playback Playback
}

const sessionName = "TableControl"

func SetupRouter(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	h := &handlers{deps: d}
	api := r.Group("/api")
	if cfg.ControlSecret != "" {
		store := cookie.NewStore([]byte(cfg.ControlSecret))
		store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24, HttpOnly: true})
		api.Use(sessions.Sessions(sessionName, store))
		api.POST("/login", loginHandler(cfg.ControlSecret))
		api.Use(requireLogin())
	}

	api.GET("/roster", h.roster)
	api.GET("/vote", h.voteView)
	api.POST("/vote", h.castVote)
	api.POST("/chat", h.chat)
	api.POST("/event", h.event)
	api.GET("/voice", h.voiceView)
	api.POST("/voice", h.enableVoice)
	api.POST("/voice/mute", h.mute)

	log.Info().Str("module", "adapters.http").Bool("auth", cfg.ControlSecret != "").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
