package auth

import "fmt"

// Destination identifies one of the linkable external accounts. The set is
// closed: adding a provider means adding a constant and its Config here.
type Destination int

const (
	DestGitHub Destination = iota
	DestSpotify
)

var destNames = map[Destination]string{
	DestGitHub:  "github",
	DestSpotify: "spotify",
}

func (d Destination) String() string {
	if name, ok := destNames[d]; ok {
		return name
	}
	return fmt.Sprintf("destination(%d)", int(d))
}

// ParseDestination maps a source name back to its destination.
func ParseDestination(name string) (Destination, error) {
	for d, n := range destNames {
		if n == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown destination %q", name)
}

// Config is the static authorization shape of one destination.
type Config struct {
	AuthURL     string
	TokenURL    string
	Scopes      string
	RedirectURI string

	// UsePKCE selects the public-client exchange: a per-flow
	// verifier/challenge pair instead of the client secret.
	UsePKCE bool

	// TracksExpiry means the provider's access tokens expire and the
	// manager persists an expiry instant alongside them.
	TracksExpiry bool
}

// RedirectURI is the single loopback redirect registered for the app.
const RedirectURI = "http://127.0.0.1:9716/callback"

var destConfigs = map[Destination]Config{
	DestGitHub: {
		AuthURL:     "https://github.com/login/oauth/authorize",
		TokenURL:    "https://github.com/login/oauth/access_token",
		Scopes:      "repo read:user",
		RedirectURI: RedirectURI,
	},
	DestSpotify: {
		AuthURL:      "https://accounts.spotify.com/authorize",
		TokenURL:     "https://accounts.spotify.com/api/token",
		Scopes:       "user-top-read",
		RedirectURI:  RedirectURI,
		UsePKCE:      true,
		TracksExpiry: true,
	},
}

// Conf returns the destination's static config.
func (d Destination) Conf() (Config, error) {
	cfg, ok := destConfigs[d]
	if !ok {
		return Config{}, fmt.Errorf("unknown destination %q", d)
	}
	return cfg, nil
}

// Credential-store keys. Token keys are per destination and durable until
// unlink; the oauth_* keys are ephemeral, single-flight, and survive
// process death so a redirect arriving after a restart can still be
// validated.
func accessTokenKey(d Destination) string  { return d.String() + "_access_token" }
func refreshTokenKey(d Destination) string { return d.String() + "_refresh_token" }
func expiryKey(d Destination) string       { return d.String() + "_expires_at" }

const (
	stateKey       = "oauth_state"
	verifierKey    = "oauth_verifier"
	destinationKey = "oauth_destination"
)
