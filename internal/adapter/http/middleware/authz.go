package middleware

import (
	"net/http"
	"strings"

	"github.com/aq2208/garden-checkout/internal/logging"
	"github.com/aq2208/garden-checkout/internal/security"
	"github.com/gin-gonic/gin"
)

const ctxClientID = "clientID"

type Authz struct {
	cfg security.JWTConfig
}

func NewAuthz(cfg security.JWTConfig) *Authz {
	return &Authz{cfg: cfg}
}

// Require checks JWT and ensures all required permissions are present
func (a *Authz) Require(requiredPerms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			unauth(c, "invalid_request", "missing bearer token")
			return
		}

		clientID, perms, err := security.Verify(a.cfg, strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			unauth(c, "invalid_token", "invalid jwt")
			return
		}
		if !hasAll(perms, requiredPerms) {
			forbidden(c, "insufficient_scope", "missing required permissions")
			return
		}

		c.Set(ctxClientID, clientID)
		logging.With(c, logging.From(c).With("client_id", clientID))
		c.Next()
	}
}

// ClientID returns the authenticated staff client, if any.
func ClientID(c *gin.Context) string {
	return c.GetString(ctxClientID)
}

func hasAll(have map[string]struct{}, req []string) bool {
	for _, r := range req {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

func unauth(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code, "error_description": desc})
}

func forbidden(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": code, "error_description": desc})
}
