package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/tablesession/internal/domain"
)

type handlers struct {
	deps Deps
}

type chatRequest struct {
	Text string `json:"text" binding:"required,max=500"`
}

type voteRequest struct {
	Option *int `json:"option" binding:"required,min=0"`
}

type muteRequest struct {
	Conn  *int `json:"conn" binding:"required"`
	Muted bool `json:"muted"`
}

func (h *handlers) roster(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Session.Roster())
}

func (h *handlers) voteView(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Votes.View())
}

func (h *handlers) castVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Votes.CastOwn(*req.Option); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.deps.Votes.View())
}

func (h *handlers) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Session.SendChat(req.Text); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// event forwards the request body untouched as the game event payload.
func (h *handlers) event(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON value"})
		return
	}
	if err := h.deps.Session.SendEvent(json.RawMessage(body)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handlers) voiceView(c *gin.Context) {
	resp := gin.H{
		"media":    h.deps.Voice.MediaState().String(),
		"sessions": h.deps.Voice.Sessions(),
	}
	if h.deps.Playback != nil {
		resp["playback"] = h.deps.Playback.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) enableVoice(c *gin.Context) {
	if err := h.deps.Voice.EnableMedia(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"media": h.deps.Voice.MediaState().String()})
}

func (h *handlers) mute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.deps.Playback == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "playback disabled"})
		return
	}
	h.deps.Playback.Mute(domain.ConnectionID(*req.Conn), req.Muted)
	c.Status(http.StatusNoContent)
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrBadOption):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrVoteClosed),
		errors.Is(err, domain.ErrAlreadyVoted),
		errors.Is(err, domain.ErrMediaAcquiring):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrBackpressure),
		errors.Is(err, domain.ErrConnectionLost):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Error().Str("module", "adapters.http").Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
