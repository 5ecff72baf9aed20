package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type JWTConfig struct {
	Secret   string        `koanf:"jwt_secret"`
	Issuer   string        `koanf:"issuer"`
	Audience string        `koanf:"audience"`
	TTL      time.Duration `koanf:"ttl"`
}

var ErrInvalidToken = errors.New("invalid token")

// Issue signs an HS256 access token carrying the client's permissions.
func Issue(cfg JWTConfig, c Client, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":      cfg.Issuer,   // issuer
		"aud":      cfg.Audience, // audience
		"iat":      now.Unix(),   // issued at
		"nbf":      now.Unix(),   // not before
		"exp":      now.Add(cfg.TTL).Unix(),
		"clientID": c.ID,
		"perms":    c.Perms,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

// Verify parses raw and returns the client id and permission set.
func Verify(cfg JWTConfig, raw string) (string, map[string]struct{}, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.Secret), nil
	},
		jwt.WithLeeway(30*time.Second), // small clock skew
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
	)
	if err != nil || !token.Valid {
		return "", nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", nil, ErrInvalidToken
	}

	perms := map[string]struct{}{}
	if arr, ok := claims["perms"].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok && s != "" {
				perms[s] = struct{}{}
			}
		}
	}
	id, _ := claims["clientID"].(string)
	return id, perms, nil
}
