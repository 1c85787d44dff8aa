// Package vault is the Azure Key Vault backend. Key lifecycle is mirrored
// to the remote vault over its REST API with OAuth2 client-credentials
// authentication; the byte-level crypto runs through the engine seam.
package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pqkms/internal/hsm"
	"pqkms/internal/hsm/backend"
	"pqkms/internal/hsm/backend/engine"
	"pqkms/internal/hsm/pool"
)

const (
	defaultPoolSize = 10
	keyTTL          = 365 * 24 * time.Hour
	apiVersion      = "7.4"

	// Tokens are refreshed five minutes before their stated expiry so a
	// request never goes out with a token about to lapse mid-flight.
	tokenExpiryBuffer = 5 * time.Minute
)

// Config carries the vault coordinates and service principal credentials.
type Config struct {
	URL          string
	TenantID     string
	ClientID     string
	ClientSecret string
	PoolSize     int

	// AuthURL overrides the identity endpoint; empty selects the Azure
	// public cloud login endpoint. Tests point it at a local server.
	AuthURL string
}

// Provider implements hsm.Provider against an Azure Key Vault.
type Provider struct {
	*backend.Core

	cfg    Config
	client *http.Client

	tokenMu     sync.Mutex
	accessToken string
	tokenType   string
	tokenExpiry time.Time
}

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client used for vault and identity calls.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// New validates the vault configuration and builds the backend.
func New(cfg Config, eng engine.Engine, opts ...Option) (*Provider, error) {
	switch {
	case cfg.URL == "":
		return nil, fmt.Errorf("vault url is required: %w", hsm.ErrConfiguration)
	case cfg.TenantID == "":
		return nil, fmt.Errorf("vault tenant id is required: %w", hsm.ErrConfiguration)
	case cfg.ClientID == "":
		return nil, fmt.Errorf("vault client id is required: %w", hsm.ErrConfiguration)
	case cfg.ClientSecret == "":
		return nil, fmt.Errorf("vault client secret is required: %w", hsm.ErrConfiguration)
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("vault url %q: %v: %w", cfg.URL, err, hsm.ErrConfiguration)
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = "https://login.microsoftonline.com"
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if eng == nil {
		eng = engine.NewPQC()
	}

	p := &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		Core: backend.NewCore(backend.Config{
			Provider: hsm.ProviderVault,
			Engine:   eng,
			Pool:     pool.New(cfg.PoolSize),
			Supported: []hsm.PqcAlgorithm{
				hsm.AlgKyber1024,
				hsm.AlgDilithium3,
				hsm.AlgSphincsSha256128s,
			},
			HardwareBacked: true,
			KeyTTL:         keyTTL,
		}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// GeneratePQCKey registers the key in the remote vault before generating
// material locally. A vault that refuses the registration fails the whole
// generation; an orphaned remote entry from a later local failure is
// reconciled by the next delete.
func (p *Provider) GeneratePQCKey(ctx context.Context, alg hsm.PqcAlgorithm, keyID string) (hsm.KeyHandle, error) {
	if !p.Supports(alg) {
		return hsm.KeyHandle{}, fmt.Errorf("%s: %w", alg, hsm.ErrUnsupportedAlgorithm)
	}
	if err := p.registerRemoteKey(ctx, keyID, alg); err != nil {
		return hsm.KeyHandle{}, err
	}
	return p.Core.GeneratePQCKey(ctx, alg, keyID)
}

// DeleteKey removes the key from the remote vault and locally.
func (p *Provider) DeleteKey(ctx context.Context, keyID string) error {
	if err := p.deleteRemoteKey(ctx, keyID); err != nil {
		return err
	}
	return p.Core.DeleteKey(ctx, keyID)
}

// HealthCheck probes the vault endpoint. Any HTTP answer below 500 counts
// as reachable; an authentication challenge still proves the vault is up.
func (p *Provider) HealthCheck(ctx context.Context) (hsm.HealthStatus, error) {
	start := time.Now()
	status := hsm.HealthStatus{
		Provider:  hsm.ProviderVault,
		LastCheck: time.Now().UTC(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.keyURL(""), nil)
	if err != nil {
		return hsm.HealthStatus{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		status.State = hsm.HealthUnreachable
		status.Detail = err.Error()
		status.ResponseTime = time.Since(start)
		return status, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 500:
		status.State = hsm.HealthHealthy
		status.Detail = fmt.Sprintf("vault answered %d", resp.StatusCode)
	default:
		status.State = hsm.HealthDegraded
		status.Detail = fmt.Sprintf("vault answered %d", resp.StatusCode)
	}
	status.ResponseTime = time.Since(start)
	return status, nil
}

type remoteKeyRequest struct {
	Kty        string            `json:"kty"`
	KeyOps     []string          `json:"key_ops"`
	Attributes remoteAttributes  `json:"attributes"`
	Tags       map[string]string `json:"tags,omitempty"`
}

type remoteAttributes struct {
	Enabled bool  `json:"enabled"`
	Expires int64 `json:"exp,omitempty"`
}

func (p *Provider) registerRemoteKey(ctx context.Context, keyID string, alg hsm.PqcAlgorithm) error {
	ops := []string{"sign", "verify"}
	if alg.Kind() == hsm.KindKEM {
		ops = []string{"encrypt", "decrypt", "wrapKey", "unwrapKey"}
	}
	body, err := json.Marshal(remoteKeyRequest{
		Kty:    "oct",
		KeyOps: ops,
		Attributes: remoteAttributes{
			Enabled: true,
			Expires: time.Now().Add(keyTTL).Unix(),
		},
		Tags: map[string]string{"algorithm": string(alg)},
	})
	if err != nil {
		return err
	}

	resp, err := p.do(ctx, http.MethodPut, p.keyURL(keyID, "create"), strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("vault rejected key %q with status %d: %w", keyID, resp.StatusCode, hsm.ErrProviderUnavailable)
	}
	return nil
}

func (p *Provider) deleteRemoteKey(ctx context.Context, keyID string) error {
	resp, err := p.do(ctx, http.MethodDelete, p.keyURL(keyID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// 404 means the remote entry is already gone, which is the outcome the
	// caller wanted.
	if resp.StatusCode != http.StatusNotFound && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return fmt.Errorf("vault refused to delete key %q with status %d: %w", keyID, resp.StatusCode, hsm.ErrProviderUnavailable)
	}
	return nil
}

// keyURL joins the key path segments ahead of the api-version query, so
// .../keys/{id}/create?api-version=7.4 and never a segment after the query.
func (p *Provider) keyURL(segments ...string) string {
	base := strings.TrimRight(p.cfg.URL, "/") + "/keys"
	for _, seg := range segments {
		if seg != "" {
			base += "/" + url.PathEscape(seg)
		}
	}
	return base + "?api-version=" + apiVersion
}

func (p *Provider) do(ctx context.Context, method, rawURL string, body io.Reader) (*http.Response, error) {
	token, tokenType, err := p.token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", tokenType+" "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request failed: %v: %w", err, hsm.ErrProviderUnavailable)
	}
	return resp, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// token returns a cached access token, authenticating when the cache is
// empty or inside the expiry buffer.
func (p *Provider) token(ctx context.Context) (string, string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, p.tokenType, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {p.cfg.ClientID},
		"client_secret": {p.cfg.ClientSecret},
		"scope":         {strings.TrimRight(p.cfg.URL, "/") + "/.default"},
	}
	endpoint := strings.TrimRight(p.cfg.AuthURL, "/") + "/" + p.cfg.TenantID + "/oauth2/v2.0/token"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("vault authentication failed: %v: %w", err, hsm.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", "", fmt.Errorf("vault authentication answered %d: %w", resp.StatusCode, hsm.ErrProviderUnavailable)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", "", fmt.Errorf("token response carried no access token: %w", hsm.ErrProviderUnavailable)
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}

	expiry := tokenExpiryFrom(tok)
	p.accessToken = tok.AccessToken
	p.tokenType = tok.TokenType
	p.tokenExpiry = expiry
	return p.accessToken, p.tokenType, nil
}

// tokenExpiryFrom prefers the advertised expires_in and falls back to the
// token's own exp claim when the identity provider omits it. The claim is
// read without signature verification: the token is ours to spend, not to
// trust.
func tokenExpiryFrom(tok tokenResponse) time.Time {
	if tok.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenExpiryBuffer)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tok.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time.Add(-tokenExpiryBuffer)
		}
	}
	return time.Now().Add(time.Minute)
}
