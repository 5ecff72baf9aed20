package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJWT = JWTConfig{Secret: "s3cret", Issuer: "garden-checkout", Audience: "staff", TTL: 15 * time.Minute}

func TestRegistryAuthenticate(t *testing.T) {
	r, err := NewRegistry([]Client{
		{ID: "staff", Secret: "pw", Perms: []string{PermOrdersRead}, Enabled: true},
		{ID: "old", Secret: "pw", Enabled: false},
	})
	require.NoError(t, err)

	c, ok := r.Authenticate("staff", "pw")
	assert.True(t, ok)
	assert.Equal(t, "staff", c.ID)

	_, ok = r.Authenticate("staff", "wrong")
	assert.False(t, ok)
	_, ok = r.Authenticate("old", "pw")
	assert.False(t, ok)
	_, ok = r.Authenticate("ghost", "pw")
	assert.False(t, ok)
}

func TestRegistryRejectsBadClients(t *testing.T) {
	_, err := NewRegistry([]Client{{ID: "a"}})
	assert.Error(t, err)
	_, err = NewRegistry([]Client{{ID: "a", Secret: "x"}, {ID: "a", Secret: "y"}})
	assert.Error(t, err)
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	raw, err := Issue(testJWT, Client{ID: "staff", Perms: []string{PermOrdersRead, PermOrdersWrite}}, time.Now())
	require.NoError(t, err)

	id, perms, err := Verify(testJWT, raw)
	require.NoError(t, err)
	assert.Equal(t, "staff", id)
	assert.Contains(t, perms, PermOrdersWrite)
	assert.NotContains(t, perms, PermPaymentsAdmin)
}

func TestVerifyRejects(t *testing.T) {
	raw, err := Issue(testJWT, Client{ID: "staff"}, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, _, err = Verify(testJWT, raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	other := testJWT
	other.Audience = "customers"
	raw, _ = Issue(other, Client{ID: "staff"}, time.Now())
	_, _, err = Verify(testJWT, raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "audience")

	other = testJWT
	other.Secret = "different"
	raw, _ = Issue(other, Client{ID: "staff"}, time.Now())
	_, _, err = Verify(testJWT, raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "signature")
}
