package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sadopc/vitals/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.NewMemory()
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	m := NewManager(s, map[Destination]ClientCredentials{
		DestGitHub:  {ID: "gh-client", Secret: "gh-secret"},
		DestSpotify: {ID: "sp-client"},
	}, nil)
	return m, s
}

// retarget points a destination's token endpoint at a test server.
func retarget(t *testing.T, d Destination, tokenURL string) {
	t.Helper()
	cfg := destConfigs[d]
	orig := cfg.TokenURL
	cfg.TokenURL = tokenURL
	destConfigs[d] = cfg
	t.Cleanup(func() {
		cfg.TokenURL = orig
		destConfigs[d] = cfg
	})
}

func tokenServer(t *testing.T, handler func(form url.Values) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		status, body := handler(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func redirectURL(t *testing.T, params url.Values) *url.URL {
	t.Helper()
	u, err := url.Parse(RedirectURI + "?" + params.Encode())
	if err != nil {
		t.Fatal(err)
	}
	return u
}

// ============================================================
// PKCE
// ============================================================

func TestCodeChallengeDeterministic(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	c1 := codeChallenge(verifier)
	c2 := codeChallenge(verifier)
	if c1 != c2 {
		t.Fatal("challenge must be deterministic for a fixed verifier")
	}
	if len(c1) != 43 {
		t.Fatalf("challenge length = %d, want 43 (32-byte digest, base64url, no padding)", len(c1))
	}
	if strings.ContainsAny(c1, "+/=") {
		t.Fatalf("challenge must be base64url without padding: %q", c1)
	}
	// RFC 7636 appendix B vector.
	if c1 != "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM" {
		t.Fatalf("challenge = %q", c1)
	}
}

func TestNewCodeVerifierShape(t *testing.T) {
	v1, err := newCodeVerifier()
	if err != nil {
		t.Fatal(err)
	}
	v2, _ := newCodeVerifier()
	if v1 == v2 {
		t.Fatal("verifiers must be unique per flow")
	}
	if len(v1) != 43 {
		t.Fatalf("verifier length = %d, want 43 (32 random bytes)", len(v1))
	}
}

// ============================================================
// Flow start
// ============================================================

func TestBeginFlowUnknownDestination(t *testing.T) {
	m, s := newTestManager(t)
	if _, err := m.BeginFlow(Destination(99)); err == nil {
		t.Fatal("unknown destination must abort")
	}
	if _, ok, _ := s.GetCredential(stateKey); ok {
		t.Fatal("nothing may be persisted for an unknown destination")
	}
}

func TestBeginFlowClassic(t *testing.T) {
	m, s := newTestManager(t)

	raw, err := m.BeginFlow(DestGitHub)
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()

	state, ok, _ := s.GetCredential(stateKey)
	if !ok || state == "" {
		t.Fatal("state must be persisted")
	}
	if q.Get("state") != state {
		t.Fatal("authorize URL must carry the persisted state")
	}
	if q.Get("code_challenge") != "" {
		t.Fatal("classic flow must not carry a PKCE challenge")
	}
	if _, ok, _ := s.GetCredential(verifierKey); ok {
		t.Fatal("classic flow must not persist a verifier")
	}
	if dest, _, _ := s.GetCredential(destinationKey); dest != "github" {
		t.Fatalf("persisted destination = %q", dest)
	}
}

func TestBeginFlowPKCE(t *testing.T) {
	m, s := newTestManager(t)

	raw, err := m.BeginFlow(DestSpotify)
	if err != nil {
		t.Fatal(err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()

	verifier, ok, _ := s.GetCredential(verifierKey)
	if !ok {
		t.Fatal("PKCE flow must persist the verifier")
	}
	if q.Get("code_challenge") != codeChallenge(verifier) {
		t.Fatal("challenge must derive from the persisted verifier")
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Fatalf("method = %q, want S256", q.Get("code_challenge_method"))
	}
}

// ============================================================
// Redirect handling
// ============================================================

func TestRedirectStateMismatch(t *testing.T) {
	m, s := newTestManager(t)

	exchanged := false
	srv := tokenServer(t, func(form url.Values) (int, any) {
		exchanged = true
		return 200, tokenResponse{AccessToken: "x"}
	})
	retarget(t, DestGitHub, srv.URL)

	if _, err := m.BeginFlow(DestGitHub); err != nil {
		t.Fatal(err)
	}

	err := m.HandleRedirect(context.Background(), redirectURL(t, url.Values{
		"code":  {"valid-code"},
		"state": {"forged-state"},
	}))
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("err = %v, want ErrStateMismatch", err)
	}
	if exchanged {
		t.Fatal("token exchange must not be attempted on CSRF mismatch")
	}
	for _, key := range []string{stateKey, verifierKey, destinationKey} {
		if _, ok, _ := s.GetCredential(key); ok {
			t.Fatalf("ephemeral %s must be cleared after a terminal redirect", key)
		}
	}
}

func TestRedirectWithoutFlow(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.HandleRedirect(context.Background(), redirectURL(t, url.Values{
		"code": {"c"}, "state": {"s"},
	}))
	if !errors.Is(err, ErrNoFlowInProgress) {
		t.Fatalf("err = %v, want ErrNoFlowInProgress", err)
	}
}

func TestRedirectProviderError(t *testing.T) {
	m, s := newTestManager(t)
	if _, err := m.BeginFlow(DestGitHub); err != nil {
		t.Fatal(err)
	}
	state, _, _ := s.GetCredential(stateKey)

	err := m.HandleRedirect(context.Background(), redirectURL(t, url.Values{
		"state": {state},
		"error": {"access_denied"},
	}))
	if err == nil || !strings.Contains(err.Error(), "access_denied") {
		t.Fatalf("err = %v, want provider error surfaced", err)
	}
	if _, ok, _ := s.GetCredential(stateKey); ok {
		t.Fatal("ephemeral state must be cleared")
	}
}

// ============================================================
// Code exchange
// ============================================================

func TestExchangeClassicSendsSecretNotVerifier(t *testing.T) {
	m, s := newTestManager(t)

	srv := tokenServer(t, func(form url.Values) (int, any) {
		if form.Get("grant_type") != "authorization_code" {
			t.Errorf("grant_type = %q", form.Get("grant_type"))
		}
		if form.Get("client_secret") != "gh-secret" {
			t.Errorf("classic exchange must send the client secret")
		}
		if form.Get("code_verifier") != "" {
			t.Errorf("classic exchange must never send a code verifier")
		}
		return 200, tokenResponse{AccessToken: "gh-access", RefreshToken: "gh-refresh"}
	})
	retarget(t, DestGitHub, srv.URL)

	if _, err := m.BeginFlow(DestGitHub); err != nil {
		t.Fatal(err)
	}
	state, _, _ := s.GetCredential(stateKey)

	err := m.HandleRedirect(context.Background(), redirectURL(t, url.Values{
		"code": {"the-code"}, "state": {state},
	}))
	if err != nil {
		t.Fatal(err)
	}

	if tok, _, _ := s.GetCredential("github_access_token"); tok != "gh-access" {
		t.Fatalf("access token = %q", tok)
	}
	if tok, _, _ := s.GetCredential("github_refresh_token"); tok != "gh-refresh" {
		t.Fatalf("refresh token = %q", tok)
	}
	if !m.Authorized(DestGitHub) {
		t.Fatal("destination should report authorized")
	}
	if _, ok, _ := s.GetCredential("github_expires_at"); ok {
		t.Fatal("github does not track expiry")
	}
}

func TestExchangePKCESendsVerifierNotSecret(t *testing.T) {
	m, s := newTestManager(t)

	var sentVerifier string
	srv := tokenServer(t, func(form url.Values) (int, any) {
		sentVerifier = form.Get("code_verifier")
		if form.Get("client_secret") != "" {
			t.Errorf("PKCE exchange must never send a client secret")
		}
		return 200, tokenResponse{AccessToken: "sp-access", RefreshToken: "sp-refresh"}
	})
	retarget(t, DestSpotify, srv.URL)

	if _, err := m.BeginFlow(DestSpotify); err != nil {
		t.Fatal(err)
	}
	state, _, _ := s.GetCredential(stateKey)
	verifier, _, _ := s.GetCredential(verifierKey)

	before := time.Now().Unix()
	err := m.HandleRedirect(context.Background(), redirectURL(t, url.Values{
		"code": {"the-code"}, "state": {state},
	}))
	if err != nil {
		t.Fatal(err)
	}

	if sentVerifier != verifier {
		t.Fatalf("sent verifier %q, persisted %q", sentVerifier, verifier)
	}

	// Spotify's token lifetime is assumed: now + 3600s.
	v, ok, _ := s.GetCredential("spotify_expires_at")
	if !ok {
		t.Fatal("spotify exchange must persist an expiry")
	}
	unix, _ := strconv.ParseInt(v, 10, 64)
	if unix < before+3590 || unix > time.Now().Unix()+3610 {
		t.Fatalf("expiry %d not ~3600s from now", unix)
	}
}

func TestExchangeMissingAccessTokenLeavesPriorTokens(t *testing.T) {
	m, s := newTestManager(t)

	// Previously linked.
	s.SetCredential("github_access_token", "old-access")
	s.SetCredential("github_refresh_token", "old-refresh")

	srv := tokenServer(t, func(form url.Values) (int, any) {
		return 200, tokenResponse{} // no access_token
	})
	retarget(t, DestGitHub, srv.URL)

	if _, err := m.BeginFlow(DestGitHub); err != nil {
		t.Fatal(err)
	}
	state, _, _ := s.GetCredential(stateKey)

	err := m.HandleRedirect(context.Background(), redirectURL(t, url.Values{
		"code": {"c"}, "state": {state},
	}))
	if err == nil {
		t.Fatal("missing access token is fatal for the exchange")
	}
	if tok, _, _ := s.GetCredential("github_access_token"); tok != "old-access" {
		t.Fatal("prior tokens must be left untouched on a failed exchange")
	}
	if tok, _, _ := s.GetCredential("github_refresh_token"); tok != "old-refresh" {
		t.Fatal("prior refresh token must be left untouched")
	}
}

// ============================================================
// Token refresh
// ============================================================

func TestRefreshWithoutTokenFailsFast(t *testing.T) {
	m, _ := newTestManager(t)

	srv := tokenServer(t, func(form url.Values) (int, any) {
		t.Error("no network call may happen without a refresh token")
		return 400, nil
	})
	retarget(t, DestGitHub, srv.URL)

	err := m.Refresh(context.Background(), DestGitHub)
	if !errors.Is(err, ErrReauthorizeRequired) {
		t.Fatalf("err = %v, want ErrReauthorizeRequired", err)
	}
}

func TestRefreshUsesConfidentialShape(t *testing.T) {
	m, s := newTestManager(t)
	s.SetCredential("spotify_refresh_token", "sp-refresh")

	srv := tokenServer(t, func(form url.Values) (int, any) {
		if form.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q", form.Get("grant_type"))
		}
		if form.Get("refresh_token") != "sp-refresh" {
			t.Errorf("refresh_token = %q", form.Get("refresh_token"))
		}
		// Renewal always uses the confidential-client shape, even for the
		// PKCE-linked destination.
		if _, ok := form["client_secret"]; !ok {
			t.Error("refresh must carry client_secret")
		}
		return 200, tokenResponse{AccessToken: "sp-access-2"}
	})
	retarget(t, DestSpotify, srv.URL)

	if err := m.Refresh(context.Background(), DestSpotify); err != nil {
		t.Fatal(err)
	}
	if tok, _, _ := s.GetCredential("spotify_access_token"); tok != "sp-access-2" {
		t.Fatalf("access token = %q", tok)
	}
	// Provider did not rotate the refresh token; the stored one survives.
	if tok, _, _ := s.GetCredential("spotify_refresh_token"); tok != "sp-refresh" {
		t.Fatalf("refresh token = %q", tok)
	}
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	m, s := newTestManager(t)
	s.SetCredential("github_refresh_token", "old")

	srv := tokenServer(t, func(form url.Values) (int, any) {
		return 200, tokenResponse{AccessToken: "a2", RefreshToken: "new"}
	})
	retarget(t, DestGitHub, srv.URL)

	if err := m.Refresh(context.Background(), DestGitHub); err != nil {
		t.Fatal(err)
	}
	if tok, _, _ := s.GetCredential("github_refresh_token"); tok != "new" {
		t.Fatalf("rotated refresh token not stored, got %q", tok)
	}
}

func TestAccessTokenRefreshesWhenExpired(t *testing.T) {
	m, s := newTestManager(t)
	s.SetCredential("spotify_access_token", "stale")
	s.SetCredential("spotify_refresh_token", "sp-refresh")
	s.SetCredential("spotify_expires_at", strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10))

	srv := tokenServer(t, func(form url.Values) (int, any) {
		return 200, tokenResponse{AccessToken: "fresh"}
	})
	retarget(t, DestSpotify, srv.URL)

	tok, err := m.AccessToken(context.Background(), DestSpotify)
	if err != nil {
		t.Fatal(err)
	}
	if tok != "fresh" {
		t.Fatalf("token = %q, want refreshed token", tok)
	}
}

func TestUnlink(t *testing.T) {
	m, s := newTestManager(t)
	s.SetCredential("github_access_token", "a")
	s.SetCredential("github_refresh_token", "r")

	if err := m.Unlink(DestGitHub); err != nil {
		t.Fatal(err)
	}
	if m.Authorized(DestGitHub) {
		t.Fatal("unlink must clear the access token")
	}
	if _, ok, _ := s.GetCredential("github_refresh_token"); ok {
		t.Fatal("unlink must clear the refresh token")
	}
}
