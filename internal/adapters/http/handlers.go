package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/skillswap/relay/internal/adapters/signal"
	"github.com/skillswap/relay/internal/auth"
	"github.com/skillswap/relay/internal/core"
	"github.com/skillswap/relay/internal/domain"
)

const (
	userKey     = "user"
	devTokenTTL = 24 * time.Hour
	maxHistory  = 1000
)

type SessionRequest struct {
	Token string `json:"token"`
}

type DevTokenRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type DevTokenResponse struct {
	Token string `json:"token"`
}

// RequireToken authenticates REST calls by the x-auth-token header: 401 when
// it is absent, 400 when it does not verify.
func RequireToken(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := v.Verify(c.GetHeader("x-auth-token"))
		if err != nil {
			if errors.Is(err, auth.ErrMissingToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no token, authorization denied"})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "token is not valid"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *domain.User {
	u, _ := c.MustGet(userKey).(*domain.User)
	return u
}

func handleHistory(store core.MessageReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		friend := domain.UserID(c.Param("friendId"))
		if _, err := domain.NewUser(friend, ""); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid friend id"})
			return
		}

		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxHistory {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = n
		}

		me := currentUser(c)
		msgs, err := store.History(c.Request.Context(), me.ID, friend, limit)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("user", string(me.ID)).Msg("history query")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
			return
		}
		if msgs == nil {
			msgs = []domain.Message{}
		}
		c.JSON(http.StatusOK, msgs)
	}
}

// handleSessionLogin keeps a verified token in the cookie session so that a
// browser can open /ws without putting the token in the URL.
func handleSessionLogin(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SessionRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid token"})
			return
		}
		user, err := v.Verify(req.Token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authorized"})
			return
		}

		s := sessions.Default(c)
		s.Set(signal.TokenSessionKey, req.Token)
		if err := s.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func handleSessionLogout(c *gin.Context) {
	s := sessions.Default(c)
	s.Delete(signal.TokenSessionKey)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("clear session")
	}
	c.Status(http.StatusNoContent)
}

func handleDevToken(issuer *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DevTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid id"})
			return
		}
		user, err := domain.NewUser(domain.UserID(req.ID), req.Name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tok, err := issuer.Issue(user.ID, user.Name, devTokenTTL)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("issue token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
			return
		}
		c.JSON(http.StatusOK, DevTokenResponse{Token: tok})
	}
}
