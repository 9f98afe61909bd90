package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	id, err := s.Create(ctx, 42)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	uid, err := s.Lookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint(42), uid)

	now = now.Add(2 * time.Hour)
	_, err = s.Lookup(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound, "expired")

	id, _ = s.Create(ctx, 7)
	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Lookup(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := NewRedisStore(client, time.Hour)

	id, err := s.Create(ctx, 42)
	require.NoError(t, err)
	assert.True(t, mr.Exists("session:"+id))

	uid, err := s.Lookup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint(42), uid)

	mr.FastForward(2 * time.Hour)
	_, err = s.Lookup(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	id, _ = s.Create(ctx, 9)
	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Lookup(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, mr.Set("session:bad", "not-a-number"))
	_, err = s.Lookup(ctx, "bad")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue(5)
	require.NoError(t, err)

	uid, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, uint(5), uid)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer, _ := NewTokenIssuer("secret", time.Hour)
	other, _ := NewTokenIssuer("other", time.Hour)

	foreign, _ := other.Issue(5)
	_, err := issuer.Parse(foreign)
	assert.ErrorIs(t, err, ErrSessionNotFound, "wrong key")

	expired, _ := issuer.Issue(5)
	issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = issuer.Parse(expired)
	assert.ErrorIs(t, err, ErrSessionNotFound, "expired")
	issuer.now = time.Now

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 5})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	_, err = issuer.Parse(unsigned)
	assert.Error(t, err, "alg none")

	_, err = issuer.Parse("garbage")
	assert.Error(t, err)
}

func TestNewTokenIssuer_RandomSecret(t *testing.T) {
	a, err := NewTokenIssuer("", time.Hour)
	require.NoError(t, err)
	b, err := NewTokenIssuer("", time.Hour)
	require.NoError(t, err)

	token, _ := a.Issue(1)
	_, err = b.Parse(token)
	assert.Error(t, err)
}
