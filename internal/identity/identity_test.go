package identity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "learnsync-test"}

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   sub,
		"iss":   testConfig.Issuer,
		"email": sub + "@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestParseToken(t *testing.T) {
	claims, err := ParseToken(signToken(t, validClaims("u1"), testConfig.Secret), testConfig)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, "u1@example.com", claims.Email)
	require.False(t, claims.ExpiresAt.IsZero())
}

func TestParseTokenRejects(t *testing.T) {
	expired := validClaims("u1")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongIssuer := validClaims("u1")
	wrongIssuer["iss"] = "someone-else"
	noSubject := validClaims("")

	tests := map[string]string{
		"wrong secret": signToken(t, validClaims("u1"), "other"),
		"expired":      signToken(t, expired, testConfig.Secret),
		"wrong issuer": signToken(t, wrongIssuer, testConfig.Secret),
		"no subject":   signToken(t, noSubject, testConfig.Secret),
		"garbage":      "not.a.jwt",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseToken(token, testConfig)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err := ParseToken("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestSessionNotifiesOnChangeOnly(t *testing.T) {
	session := NewSession(testConfig)
	changes, cancel := session.Subscribe(4)
	defer cancel()

	_, ok := session.Current()
	require.False(t, ok)

	session.Set("u1", "tok-1")
	session.Set("u1", "tok-2")
	session.Clear()

	require.Equal(t, "u1", <-changes)
	require.Equal(t, "", <-changes)
	select {
	case extra := <-changes:
		t.Fatalf("unexpected notification %q", extra)
	default:
	}

	token, ok := session.Token()
	require.False(t, ok)
	require.Empty(t, token)
}

func TestSessionSubscriberKeepsLatest(t *testing.T) {
	session := NewSession(testConfig)
	changes, cancel := session.Subscribe(1)
	defer cancel()

	session.Set("u1", "")
	session.Set("u2", "")
	session.Set("u3", "")

	require.Equal(t, "u3", <-changes)
}

func TestSessionSetToken(t *testing.T) {
	session := NewSession(testConfig)
	_, err := session.SetToken(signToken(t, validClaims("u7"), "wrong"))
	require.Error(t, err)
	_, ok := session.Current()
	require.False(t, ok)

	raw := signToken(t, validClaims("u7"), testConfig.Secret)
	claims, err := session.SetToken(raw)
	require.NoError(t, err)
	require.Equal(t, "u7", claims.Subject)

	id, ok := session.Current()
	require.True(t, ok)
	require.Equal(t, "u7", id)
	token, _ := session.Token()
	require.Equal(t, raw, token)
}

func TestTokenFileWatcherFollowsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jwt")
	require.NoError(t, os.WriteFile(path, []byte(signToken(t, validClaims("u1"), testConfig.Secret)), 0o600))

	session := NewSession(testConfig)
	watcher, err := NewTokenFileWatcher(path, session)
	require.NoError(t, err)
	require.NoError(t, watcher.Start())
	t.Cleanup(func() { _ = watcher.Stop() })

	id, ok := session.Current()
	require.True(t, ok, "existing file is loaded on start")
	require.Equal(t, "u1", id)

	require.NoError(t, os.WriteFile(path, []byte(signToken(t, validClaims("u2"), testConfig.Secret)), 0o600))
	require.Eventually(t, func() bool {
		id, _ := session.Current()
		return id == "u2"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, ok := session.Current()
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestTokenFileWatcherStartTwice(t *testing.T) {
	watcher, err := NewTokenFileWatcher(filepath.Join(t.TempDir(), "session.jwt"), NewSession(testConfig))
	require.NoError(t, err)
	require.NoError(t, watcher.Start())
	defer watcher.Stop()
	require.Error(t, watcher.Start())
}
