package iceservers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStaticDefaults(t *testing.T) {
	s := NewStatic(StaticConfig{}, quietLogger())

	servers, source, err := s.ICEServers(context.Background(), "peer")
	require.NoError(t, err)
	assert.Equal(t, SourceStatic, source)
	require.Len(t, servers, 1)
	assert.Equal(t, DefaultSTUN, servers[0].URLs)
}

func TestStaticWithTURN(t *testing.T) {
	s := NewStatic(StaticConfig{
		STUNURLs:     []string{"stun:stun.example.com:3478"},
		TURNURLs:     []string{"turn:turn.example.com:3478?transport=udp", "turns:turn.example.com:5349?transport=tcp"},
		TURNUsername: "user",
		TURNPassword: "pass",
	}, quietLogger())

	servers, _, err := s.ICEServers(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, servers[0].URLs)
	assert.Len(t, servers[1].URLs, 2)
	assert.Equal(t, "user", servers[1].Username)
	assert.Equal(t, "pass", servers[1].Credential)
}

func TestStaticModes(t *testing.T) {
	turn := []string{"turn:turn.example.com:3478"}

	stunOnly := NewStatic(StaticConfig{Mode: ModeSTUNOnly, TURNURLs: turn}, quietLogger())
	servers, _, _ := stunOnly.ICEServers(context.Background(), "")
	require.Len(t, servers, 1)
	assert.Equal(t, DefaultSTUN, servers[0].URLs)

	turnOnly := NewStatic(StaticConfig{Mode: ModeTURNOnly, TURNURLs: turn}, quietLogger())
	servers, _, _ = turnOnly.ICEServers(context.Background(), "")
	require.Len(t, servers, 1)
	assert.Equal(t, turn, servers[0].URLs)

	empty := NewStatic(StaticConfig{Mode: ModeTURNOnly}, quietLogger())
	servers, _, _ = empty.ICEServers(context.Background(), "")
	require.Len(t, servers, 1)
	assert.Equal(t, DefaultSTUN, servers[0].URLs)
}

func TestSanitizeDropsInvalidURLs(t *testing.T) {
	servers := Sanitize([]webrtc.ICEServer{
		{URLs: []string{"stun:ok.example.com:3478", "http://not-ice.example.com"}},
		{URLs: []string{"garbage"}},
	}, quietLogger())

	require.Len(t, servers, 1)
	assert.Equal(t, []string{"stun:ok.example.com:3478"}, servers[0].URLs)
}

func TestRemoteSendsSignedToken(t *testing.T) {
	secret := "shared-secret"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || claims.Subject != "peer-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"iceServers":[
			{"urls":["turn:relay.example.com:443?transport=tcp"],"username":"1700000000:peer-1","credential":"abc"},
			{"urls":["bogus"]}
		]}`)
	}))
	defer srv.Close()

	r := NewRemote(RemoteConfig{Endpoint: srv.URL, Secret: secret}, quietLogger())
	servers, source, err := r.ICEServers(context.Background(), "peer-1")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, source)
	require.Len(t, servers, 1)
	assert.Equal(t, "1700000000:peer-1", servers[0].Username)
	assert.Equal(t, "abc", servers[0].Credential)
}

func TestRemoteAcceptsBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[{"urls":["stun:stun.example.com:3478"]}]`)
	}))
	defer srv.Close()

	r := NewRemote(RemoteConfig{Endpoint: srv.URL}, quietLogger())
	servers, _, err := r.ICEServers(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, servers, 1)
}

func TestRemoteErrors(t *testing.T) {
	status := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer status.Close()

	_, _, err := NewRemote(RemoteConfig{Endpoint: status.URL}, quietLogger()).ICEServers(context.Background(), "")
	assert.ErrorContains(t, err, "502")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"iceServers":[]}`)
	}))
	defer empty.Close()

	_, _, err = NewRemote(RemoteConfig{Endpoint: empty.URL}, quietLogger()).ICEServers(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoServers)
}

type failingProvider struct{}

func (failingProvider) ICEServers(context.Context, string) ([]webrtc.ICEServer, string, error) {
	return nil, SourceRemote, errors.New("unreachable")
}

func TestWithFallback(t *testing.T) {
	static := NewStatic(StaticConfig{}, quietLogger())

	f := NewWithFallback(failingProvider{}, static, quietLogger())
	servers, source, err := f.ICEServers(context.Background(), "peer")
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, source)
	assert.Equal(t, DefaultSTUN, servers[0].URLs)

	ok := NewWithFallback(static, failingProvider{}, quietLogger())
	_, source, err = ok.ICEServers(context.Background(), "peer")
	require.NoError(t, err)
	assert.Equal(t, SourceStatic, source)
}
