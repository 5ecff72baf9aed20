package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/aq2208/garden-checkout/internal/security"
	"github.com/gin-gonic/gin"
)

type TokenHandler struct {
	cfg     security.JWTConfig
	clients *security.Registry
	now     func() time.Time
}

func NewTokenHandler(cfg security.JWTConfig, clients *security.Registry) *TokenHandler {
	return &TokenHandler{cfg: cfg, clients: clients, now: time.Now}
}

// POST /v1/token (form)
// Accepts: client_id, client_secret
// Optional: scope (space-separated subset of client's perms)
func (h *TokenHandler) IssueToken(c *gin.Context) {
	clientID := c.PostForm("client_id")
	clientSecret := c.PostForm("client_secret")
	if clientID == "" || clientSecret == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid client"})
		return
	}

	cl, ok := h.clients.Authenticate(clientID, clientSecret)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid client"})
		return
	}
	if scope := strings.Fields(c.PostForm("scope")); len(scope) > 0 {
		granted, ok := narrow(cl.Perms, scope)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scope"})
			return
		}
		cl.Perms = granted
	}

	signed, err := security.Issue(h.cfg, cl, h.now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": signed,
		"token_type":   "Bearer",
		"expires_in":   int64(h.cfg.TTL.Seconds()),
	})
}

func narrow(have, want []string) ([]string, bool) {
	set := make(map[string]struct{}, len(have))
	for _, p := range have {
		set[p] = struct{}{}
	}
	for _, p := range want {
		if _, ok := set[p]; !ok {
			return nil, false
		}
	}
	return want, true
}
