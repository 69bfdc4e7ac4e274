package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrStateMismatch means a redirect carried a CSRF state that does not
	// match the one this app generated. The exchange is never attempted.
	ErrStateMismatch = errors.New("oauth state mismatch")

	// ErrReauthorizeRequired means no usable refresh token is stored; the
	// user must run the linking flow again.
	ErrReauthorizeRequired = errors.New("re-authorization required")

	// ErrNoFlowInProgress means a redirect arrived with no persisted state
	// to validate it against.
	ErrNoFlowInProgress = errors.New("no linking flow in progress")
)

// CredentialStore is the opaque key-value capability tokens and flow state
// persist through. Each get/set/delete is individually atomic.
type CredentialStore interface {
	GetCredential(key string) (value string, ok bool, err error)
	SetCredential(key, value string) error
	DeleteCredential(key string) error
}

// ClientCredentials is the app registration for one destination.
type ClientCredentials struct {
	ID     string
	Secret string
}

// Manager owns the linking and renewal state machines for the external
// destinations and persists the resulting tokens.
type Manager struct {
	creds   CredentialStore
	clients map[Destination]ClientCredentials
	http    *http.Client
	log     *slog.Logger

	// spotifyTokenLifetime is assumed: the provider does not return
	// expires_in on the flow shape we use.
	spotifyTokenLifetime time.Duration
}

func NewManager(creds CredentialStore, clients map[Destination]ClientCredentials, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		creds:                creds,
		clients:              clients,
		http:                 &http.Client{Timeout: 15 * time.Second},
		log:                  log,
		spotifyTokenLifetime: time.Hour,
	}
}

// SetHTTPClient swaps the underlying HTTP client (tests point it at a fake
// token endpoint).
func (m *Manager) SetHTTPClient(c *http.Client) { m.http = c }

// Authorized reports whether the destination has a stored access token.
func (m *Manager) Authorized(d Destination) bool {
	_, ok, err := m.creds.GetCredential(accessTokenKey(d))
	return err == nil && ok
}

// Unlink removes every persisted token for the destination.
func (m *Manager) Unlink(d Destination) error {
	for _, key := range []string{accessTokenKey(d), refreshTokenKey(d), expiryKey(d)} {
		if err := m.creds.DeleteCredential(key); err != nil {
			return err
		}
	}
	return nil
}

// BeginFlow generates the per-flow CSRF state (and, for PKCE destinations,
// the verifier/challenge pair), persists them, and returns the full
// authorization URL to open. It makes no network call; an unrecognized
// destination aborts before anything is persisted.
func (m *Manager) BeginFlow(d Destination) (authorizeURL string, err error) {
	cfg, err := d.Conf()
	if err != nil {
		return "", err
	}
	client, ok := m.clients[d]
	if !ok || client.ID == "" {
		return "", fmt.Errorf("no client registration for %s", d)
	}

	state, err := newStateToken()
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", client.ID)
	params.Set("redirect_uri", cfg.RedirectURI)
	params.Set("scope", cfg.Scopes)
	params.Set("state", state)

	if err := m.creds.SetCredential(stateKey, state); err != nil {
		return "", fmt.Errorf("persist state: %w", err)
	}
	if err := m.creds.SetCredential(destinationKey, d.String()); err != nil {
		return "", fmt.Errorf("persist destination: %w", err)
	}

	if cfg.UsePKCE {
		verifier, err := newCodeVerifier()
		if err != nil {
			return "", err
		}
		if err := m.creds.SetCredential(verifierKey, verifier); err != nil {
			return "", fmt.Errorf("persist verifier: %w", err)
		}
		params.Set("code_challenge", codeChallenge(verifier))
		params.Set("code_challenge_method", "S256")
	}

	return cfg.AuthURL + "?" + params.Encode(), nil
}

// HandleRedirect validates and consumes the redirect back from the
// provider. Every terminal path, success or not, clears the ephemeral
// state/verifier entries exactly once.
func (m *Manager) HandleRedirect(ctx context.Context, u *url.URL) error {
	expected, ok, err := m.creds.GetCredential(stateKey)
	if err != nil {
		return fmt.Errorf("read expected state: %w", err)
	}
	if !ok {
		return ErrNoFlowInProgress
	}

	defer m.clearEphemeral()

	q := u.Query()
	state := q.Get("state")
	code := q.Get("code")
	errParam := q.Get("error")

	if state != expected {
		m.log.Warn("oauth redirect rejected", "reason", "state mismatch")
		return ErrStateMismatch
	}
	if code == "" {
		if errParam == "" {
			errParam = "no code returned"
		}
		return fmt.Errorf("authorization failed: %s", errParam)
	}

	destName, ok, err := m.creds.GetCredential(destinationKey)
	if err != nil || !ok {
		return fmt.Errorf("read flow destination: %w", err)
	}
	dest, err := ParseDestination(destName)
	if err != nil {
		return err
	}

	return m.exchangeCode(ctx, dest, code)
}

func (m *Manager) clearEphemeral() {
	for _, key := range []string{stateKey, verifierKey, destinationKey} {
		if err := m.creds.DeleteCredential(key); err != nil {
			m.log.Warn("clear ephemeral credential", "key", key, "error", err)
		}
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// exchangeCode runs the authorization_code grant. The PKCE path sends the
// persisted verifier, the classic path sends the client secret, never
// both. On any failure previously stored tokens are left untouched.
func (m *Manager) exchangeCode(ctx context.Context, d Destination, code string) error {
	cfg, err := d.Conf()
	if err != nil {
		return err
	}
	client := m.clients[d]

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", cfg.RedirectURI)
	form.Set("client_id", client.ID)

	if cfg.UsePKCE {
		verifier, ok, err := m.creds.GetCredential(verifierKey)
		if err != nil || !ok {
			return fmt.Errorf("code verifier missing for %s exchange", d)
		}
		form.Set("code_verifier", verifier)
	} else {
		form.Set("client_secret", client.Secret)
	}

	tok, err := m.postTokenRequest(ctx, cfg.TokenURL, form)
	if err != nil {
		m.log.Error("token exchange failed", "destination", d.String(), "error", err)
		return fmt.Errorf("exchange code for %s: %w", d, err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("exchange code for %s: response carried no access token", d)
	}

	return m.persistTokens(d, cfg, tok)
}

// Refresh renews the destination's access token with the stored refresh
// token. Fails fast, without a network call, when none is stored.
//
// Both destinations refresh with the confidential-client shape (client
// secret in the form), including the PKCE-linked one.
func (m *Manager) Refresh(ctx context.Context, d Destination) error {
	cfg, err := d.Conf()
	if err != nil {
		return err
	}
	refresh, ok, err := m.creds.GetCredential(refreshTokenKey(d))
	if err != nil {
		return err
	}
	if !ok || refresh == "" {
		return fmt.Errorf("refresh %s: %w", d, ErrReauthorizeRequired)
	}
	client := m.clients[d]

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refresh)
	form.Set("client_id", client.ID)
	form.Set("client_secret", client.Secret)

	tok, err := m.postTokenRequest(ctx, cfg.TokenURL, form)
	if err != nil {
		m.log.Error("token refresh failed", "destination", d.String(), "error", err)
		return fmt.Errorf("refresh %s: %w", d, err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("refresh %s: response carried no access token", d)
	}
	if tok.RefreshToken == "" {
		// Provider did not rotate; keep the stored one.
		tok.RefreshToken = refresh
	}

	return m.persistTokens(d, cfg, tok)
}

// AccessToken returns a usable bearer token for the destination,
// refreshing first when the provider tracks expiry and it has passed.
func (m *Manager) AccessToken(ctx context.Context, d Destination) (string, error) {
	cfg, err := d.Conf()
	if err != nil {
		return "", err
	}

	if cfg.TracksExpiry {
		if expired, err := m.tokenExpired(d); err == nil && expired {
			if err := m.Refresh(ctx, d); err != nil {
				return "", err
			}
		}
	}

	token, ok, err := m.creds.GetCredential(accessTokenKey(d))
	if err != nil {
		return "", err
	}
	if !ok || token == "" {
		return "", fmt.Errorf("access token for %s: %w", d, ErrReauthorizeRequired)
	}
	return token, nil
}

func (m *Manager) tokenExpired(d Destination) (bool, error) {
	v, ok, err := m.creds.GetCredential(expiryKey(d))
	if err != nil || !ok {
		return false, err
	}
	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return false, err
	}
	return time.Now().Unix() >= unix, nil
}

func (m *Manager) persistTokens(d Destination, cfg Config, tok *tokenResponse) error {
	if err := m.creds.SetCredential(accessTokenKey(d), tok.AccessToken); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	// Refresh token is optional; store the empty string so its absence is
	// distinguishable from "never linked".
	if err := m.creds.SetCredential(refreshTokenKey(d), tok.RefreshToken); err != nil {
		return fmt.Errorf("persist refresh token: %w", err)
	}
	if cfg.TracksExpiry {
		expiry := time.Now().Add(m.spotifyTokenLifetime).Unix()
		if err := m.creds.SetCredential(expiryKey(d), strconv.FormatInt(expiry, 10)); err != nil {
			return fmt.Errorf("persist expiry: %w", err)
		}
	}
	m.log.Info("tokens persisted", "destination", d.String(), "has_refresh", tok.RefreshToken != "")
	return nil
}

func (m *Manager) postTokenRequest(ctx context.Context, tokenURL string, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	return &tok, nil
}
