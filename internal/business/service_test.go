package business

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService() *Service {
	svc := NewService(NewMemoryRepository())
	svc.cost = bcrypt.MinCost
	return svc
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	b, key, err := svc.Register(ctx, Registration{Name: "Acme", Email: " Ops@Acme.io "})
	require.NoError(t, err)
	assert.Equal(t, "ops@acme.io", b.Email)
	assert.True(t, strings.HasPrefix(key, apiKeyPrefix))
	assert.NotContains(t, string(b.APIKeyHash), key)

	authed, err := svc.Authenticate(ctx, b.ID, key)
	require.NoError(t, err)
	assert.Equal(t, b.ID, authed.ID)
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	b, _, err := svc.Register(ctx, Registration{Name: "Acme", Email: "ops@acme.io"})
	require.NoError(t, err)

	cases := map[string]struct{ id, key string }{
		"wrong key":      {b.ID, apiKeyPrefix + "nope"},
		"unknown id":     {"2b0f9f57-4a8e-4a63-9c36-0f7c1f1b5b7a", apiKeyPrefix + "nope"},
		"malformed id":   {"not-a-uuid", "x"},
		"missing key":    {b.ID, ""},
		"missing header": {"", ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Authenticate(ctx, tc.id, tc.key)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	_, _, err := svc.Register(ctx, Registration{Name: "Acme", Email: "ops@acme.io"})
	require.NoError(t, err)
	_, _, err = svc.Register(ctx, Registration{Name: "Acme 2", Email: "OPS@acme.io"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterRequiresNameAndEmail(t *testing.T) {
	_, _, err := newTestService().Register(context.Background(), Registration{Name: " "})
	assert.Error(t, err)
}
