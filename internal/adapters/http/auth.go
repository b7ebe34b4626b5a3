package http

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type loginRequest struct {
	Secret string `json:"secret" binding:"required"`
}

// loginHandler stores a client token in the cookie session once the caller
// proves it knows the control secret.
func loginHandler(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(secret)) != 1 {
			log.Warn().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("rejected login")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad secret"})
			return
		}
		token := uuid.NewString()
		s := sessions.Default(c)
		s.Set("client_token", token)
		if err := s.Save(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		log.Info().Str("module", "adapters.http").Str("client_token", token).Msg("control client logged in")
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func requireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := sessions.Default(c).Get("client_token").(string)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
			return
		}
		c.Set("client_token", token)
		c.Next()
	}
}
