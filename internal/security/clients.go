package security

import (
	"crypto/subtle"
	"fmt"
)

// Staff permissions.
const (
	PermOrdersRead    = "orders.read"
	PermOrdersWrite   = "orders.write"
	PermPaymentsAdmin = "payments.admin"
)

// Client is a staff or service principal allowed to request tokens.
type Client struct {
	ID      string   `koanf:"id"`
	Secret  string   `koanf:"secret"`
	Perms   []string `koanf:"perms"` // e.g. {"orders.read","orders.write"}
	Enabled bool     `koanf:"enabled"`
}

// Registry looks clients up by id.
type Registry struct {
	clients map[string]Client
}

func NewRegistry(clients []Client) (*Registry, error) {
	m := make(map[string]Client, len(clients))
	for _, c := range clients {
		if c.ID == "" || c.Secret == "" {
			return nil, fmt.Errorf("security: client id and secret required")
		}
		if _, dup := m[c.ID]; dup {
			return nil, fmt.Errorf("security: duplicate client %s", c.ID)
		}
		m[c.ID] = c
	}
	return &Registry{clients: m}, nil
}

// Authenticate returns the client when id and secret match an enabled entry.
func (r *Registry) Authenticate(id, secret string) (Client, bool) {
	c, ok := r.clients[id]
	if !ok || !c.Enabled {
		return Client{}, false
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(c.Secret)) != 1 {
		return Client{}, false
	}
	return c, true
}
