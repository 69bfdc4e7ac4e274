package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sadopc/vitals/internal/auth"
	"github.com/sadopc/vitals/internal/metric"
	"github.com/sadopc/vitals/internal/store"
)

// Spotify surfaces listening taste as two aggregate metrics: the modal
// genre of the user's current top artists and the mean popularity of their
// top tracks. Both are single-day aggregates dated at the reference
// instant, not historical series.
type Spotify struct {
	store  *store.Store
	tokens TokenProvider
	http   *http.Client

	apiBase string
}

func NewSpotify(s *store.Store, tokens TokenProvider) *Spotify {
	return &Spotify{
		store:   s,
		tokens:  tokens,
		http:    &http.Client{Timeout: 15 * time.Second},
		apiBase: "https://api.spotify.com",
	}
}

func (sp *Spotify) Name() string { return "spotify" }

func (sp *Spotify) Enabled() (bool, error) {
	return sp.store.GetBoolSetting(store.SettingSpotifyEnabled)
}

// Metrics applies the per-metric sub-flags on every call, so toggling
// "track genres" in settings takes effect on the next cycle.
func (sp *Spotify) Metrics() ([]metric.Key, error) {
	var keys []metric.Key
	if on, err := sp.store.GetBoolSetting(store.SettingTrackGenres); err != nil {
		return nil, err
	} else if on {
		keys = append(keys, metric.TopGenre)
	}
	if on, err := sp.store.GetBoolSetting(store.SettingTrackPopularity); err != nil {
		return nil, err
	} else if on {
		keys = append(keys, metric.AvgPopularity)
	}
	return keys, nil
}

func (sp *Spotify) Write(ctx context.Context, key metric.Key, ts time.Time, value string) (bool, error) {
	return false, ErrReadOnly
}

type spotifyArtists struct {
	Items []struct {
		Genres []string `json:"genres"`
	} `json:"items"`
}

type spotifyTracks struct {
	Items []struct {
		Popularity int `json:"popularity"`
	} `json:"items"`
}

func (sp *Spotify) ReadWindow(ctx context.Context, key metric.Key, ref time.Time) ([]metric.Sample, error) {
	token, err := sp.tokens.AccessToken(ctx, auth.DestSpotify)
	if err != nil {
		return nil, err
	}
	today := ref.Format(metric.DateFormat)

	switch key {
	case metric.TopGenre:
		var artists spotifyArtists
		url := sp.apiBase + "/v1/me/top/artists?limit=20&time_range=short_term"
		if err := sp.getJSON(ctx, url, token, &artists); err != nil {
			return nil, fmt.Errorf("spotify top artists: %w", err)
		}
		genre := modalGenre(artists)
		if genre == "" {
			return nil, nil
		}
		return []metric.Sample{{Date: today, Value: genre}}, nil

	case metric.AvgPopularity:
		var tracks spotifyTracks
		url := sp.apiBase + "/v1/me/top/tracks?limit=20&time_range=short_term"
		if err := sp.getJSON(ctx, url, token, &tracks); err != nil {
			return nil, fmt.Errorf("spotify top tracks: %w", err)
		}
		if len(tracks.Items) == 0 {
			return nil, nil
		}
		sum := 0
		for _, t := range tracks.Items {
			sum += t.Popularity
		}
		avg := float64(sum) / float64(len(tracks.Items))
		return []metric.Sample{{Date: today, Value: fmt.Sprintf("%.0f", avg)}}, nil

	default:
		return nil, fmt.Errorf("spotify: unsupported metric %s", key)
	}
}

// modalGenre picks the most frequent genre across the top artists, ties
// broken by first occurrence.
func modalGenre(artists spotifyArtists) string {
	counts := make(map[string]int)
	var order []string
	for _, a := range artists.Items {
		for _, g := range a.Genres {
			if counts[g] == 0 {
				order = append(order, g)
			}
			counts[g]++
		}
	}
	best := ""
	for _, g := range order {
		if best == "" || counts[g] > counts[best] {
			best = g
		}
	}
	return best
}

func (sp *Spotify) getJSON(ctx context.Context, url, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := sp.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
