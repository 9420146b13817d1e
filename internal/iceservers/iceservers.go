// Package iceservers supplies the STUN/TURN descriptors clients use while
// negotiating. Servers come either from static configuration or from an
// external credential-issuing service.
package iceservers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const (
	ModeSTUNTURN = "stun-turn"
	ModeSTUNOnly = "stun-only"
	ModeTURNOnly = "turn-only"

	SourceStatic   = "static"
	SourceRemote   = "remote"
	SourceFallback = "fallback"

	requestTimeout = 5 * time.Second
	tokenLifetime  = time.Minute
	maxBodySize    = 1 << 20
)

// DefaultSTUN is used when no STUN servers are configured.
var DefaultSTUN = []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}

var ErrNoServers = errors.New("credential service returned no usable ice servers")

// Provider returns the ICE servers a peer should use.
type Provider interface {
	ICEServers(ctx context.Context, peerID string) (servers []webrtc.ICEServer, source string, err error)
}

// StaticConfig describes locally configured servers.
type StaticConfig struct {
	Mode         string
	STUNURLs     []string
	TURNURLs     []string
	TURNUsername string
	TURNPassword string
}

// Static serves a fixed list of servers.
type Static struct {
	servers []webrtc.ICEServer
}

// NewStatic builds the server list for cfg. Invalid URLs are dropped.
func NewStatic(cfg StaticConfig, logger *slog.Logger) *Static {
	if logger == nil {
		logger = slog.Default()
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeSTUNTURN
	}
	turnOnly := mode == ModeTURNOnly
	stunOnly := mode == ModeSTUNOnly

	var servers []webrtc.ICEServer
	if !turnOnly {
		urls := cfg.STUNURLs
		if len(urls) == 0 {
			urls = DefaultSTUN
		}
		servers = append(servers, webrtc.ICEServer{URLs: urls})
	}

	if !stunOnly {
		if len(cfg.TURNURLs) > 0 {
			servers = append(servers, webrtc.ICEServer{
				URLs:       cfg.TURNURLs,
				Username:   cfg.TURNUsername,
				Credential: cfg.TURNPassword,
			})
		} else if !turnOnly {
			logger.Info("TURN not configured; set TURN_URLS and credentials for relay fallback")
		}
	}

	servers = Sanitize(servers, logger)
	if turnOnly && len(servers) == 0 {
		logger.Warn("ICE_MODE=turn-only set but no TURN servers are configured; falling back to default STUN")
		servers = []webrtc.ICEServer{{URLs: DefaultSTUN}}
	}

	logger.Info("ICE servers loaded", "mode", mode, "servers", len(servers))
	return &Static{servers: servers}
}

func (s *Static) ICEServers(context.Context, string) ([]webrtc.ICEServer, string, error) {
	return s.servers, SourceStatic, nil
}

// Sanitize drops URLs that are not valid stun/turn URIs and servers left without URLs.
func Sanitize(servers []webrtc.ICEServer, logger *slog.Logger) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		var urls []string
		for _, raw := range s.URLs {
			raw = strings.TrimSpace(raw)
			if _, err := stun.ParseURI(raw); err != nil {
				logger.Warn("ignoring invalid ICE server URL", "url", raw, "error", err)
				continue
			}
			urls = append(urls, raw)
		}
		if len(urls) == 0 {
			continue
		}
		s.URLs = urls
		out = append(out, s)
	}
	return out
}

// RemoteConfig describes an external credential service.
type RemoteConfig struct {
	Endpoint string
	// Secret signs a short-lived bearer token for the service. Empty disables the header.
	Secret     string
	HTTPClient *http.Client
}

// Remote fetches short-lived relay credentials per request.
type Remote struct {
	endpoint string
	secret   []byte
	client   *http.Client
	logger   *slog.Logger
}

func NewRemote(cfg RemoteConfig, logger *slog.Logger) *Remote {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		endpoint: cfg.Endpoint,
		secret:   []byte(cfg.Secret),
		client:   client,
		logger:   logger,
	}
}

// credentialResponse accepts both a bare array and an {"iceServers": [...]} object.
type credentialResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

func (r *Remote) ICEServers(ctx context.Context, peerID string) ([]webrtc.ICEServer, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return nil, SourceRemote, fmt.Errorf("build credential request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if len(r.secret) > 0 {
		token, err := r.token(peerID)
		if err != nil {
			return nil, SourceRemote, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, SourceRemote, fmt.Errorf("credential request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, SourceRemote, fmt.Errorf("read credential response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, SourceRemote, fmt.Errorf("credential service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	servers, err := decodeServers(body)
	if err != nil {
		return nil, SourceRemote, err
	}
	servers = Sanitize(servers, r.logger)
	if len(servers) == 0 {
		return nil, SourceRemote, ErrNoServers
	}
	return servers, SourceRemote, nil
}

func (r *Remote) token(peerID string) (string, error) {
	if peerID == "" {
		peerID = "anonymous"
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   peerID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential token: %w", err)
	}
	return signed, nil
}

func decodeServers(body []byte) ([]webrtc.ICEServer, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var servers []webrtc.ICEServer
		if err := json.Unmarshal(body, &servers); err != nil {
			return nil, fmt.Errorf("decode credential response: %w", err)
		}
		return servers, nil
	}
	var resp credentialResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode credential response: %w", err)
	}
	return resp.ICEServers, nil
}

// WithFallback serves primary, or fallback when primary fails.
type WithFallback struct {
	primary  Provider
	fallback Provider
	logger   *slog.Logger
}

func NewWithFallback(primary, fallback Provider, logger *slog.Logger) *WithFallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &WithFallback{primary: primary, fallback: fallback, logger: logger}
}

func (f *WithFallback) ICEServers(ctx context.Context, peerID string) ([]webrtc.ICEServer, string, error) {
	servers, source, err := f.primary.ICEServers(ctx, peerID)
	if err == nil {
		return servers, source, nil
	}
	f.logger.Warn("credential service unavailable, serving fallback", "error", err)

	servers, _, ferr := f.fallback.ICEServers(ctx, peerID)
	if ferr != nil {
		return nil, SourceFallback, errors.Join(err, ferr)
	}
	return servers, SourceFallback, nil
}
