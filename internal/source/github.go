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

// GitHub surfaces repository activity as a daily commit-count series,
// derived from the authenticated user's public event stream.
type GitHub struct {
	store  *store.Store
	tokens TokenProvider
	http   *http.Client

	apiBase string
}

func NewGitHub(s *store.Store, tokens TokenProvider) *GitHub {
	return &GitHub{
		store:   s,
		tokens:  tokens,
		http:    &http.Client{Timeout: 15 * time.Second},
		apiBase: "https://api.github.com",
	}
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) Enabled() (bool, error) {
	return g.store.GetBoolSetting(store.SettingGitHubEnabled)
}

func (g *GitHub) Metrics() ([]metric.Key, error) {
	return []metric.Key{metric.CommitCount}, nil
}

func (g *GitHub) Write(ctx context.Context, key metric.Key, ts time.Time, value string) (bool, error) {
	return false, ErrReadOnly
}

type githubUser struct {
	Login string `json:"login"`
}

type githubEvent struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Payload   struct {
		Commits []struct {
			SHA string `json:"sha"`
		} `json:"commits"`
	} `json:"payload"`
}

func (g *GitHub) ReadWindow(ctx context.Context, key metric.Key, ref time.Time) ([]metric.Sample, error) {
	if key != metric.CommitCount {
		return nil, fmt.Errorf("github: unsupported metric %s", key)
	}

	token, err := g.tokens.AccessToken(ctx, auth.DestGitHub)
	if err != nil {
		return nil, err
	}

	var user githubUser
	if err := g.getJSON(ctx, g.apiBase+"/user", token, &user); err != nil {
		return nil, fmt.Errorf("github user: %w", err)
	}

	var events []githubEvent
	url := fmt.Sprintf("%s/users/%s/events?per_page=100", g.apiBase, user.Login)
	if err := g.getJSON(ctx, url, token, &events); err != nil {
		return nil, fmt.Errorf("github events: %w", err)
	}

	days := g.store.GetIntSetting(store.SettingWindowDays, metric.WindowDays)
	start := metric.WindowStartDays(ref, days)
	perDay := make(map[string]int)
	for _, ev := range events {
		if ev.Type != "PushEvent" {
			continue
		}
		if ev.CreatedAt.Before(start) || ev.CreatedAt.After(ref) {
			continue
		}
		day := ev.CreatedAt.Format(metric.DateFormat)
		perDay[day] += len(ev.Payload.Commits)
	}

	samples := make([]metric.Sample, 0, len(perDay))
	for day, count := range perDay {
		samples = append(samples, metric.Sample{Date: day, Value: fmt.Sprintf("%d", count)})
	}
	return samples, nil
}

func (g *GitHub) getJSON(ctx context.Context, url, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
