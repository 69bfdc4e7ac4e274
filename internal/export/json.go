// Package export builds the batched upload payload from the unified
// upload view and writes or ships it. The retry policy on transient
// upload failure belongs to an outer scheduler, not here.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sadopc/vitals/internal/metric"
)

// ErrPermanent marks an upload rejection that retrying will not fix; a
// scheduler should abandon the payload instead of requeueing it.
var ErrPermanent = errors.New("permanent upload failure")

// Payload is the wire shape of one batched upload: metric -> date ->
// string value.
type Payload struct {
	ExportedAt string                           `json:"exported_at"`
	Metrics    map[metric.Key]map[string]string `json:"metrics"`
}

// BuildPayload flattens the upload view into the wire shape.
func BuildPayload(upload metric.UploadView) Payload {
	p := Payload{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Metrics:    make(map[metric.Key]map[string]string, len(upload)),
	}
	for key, series := range upload {
		dates := make(map[string]string, len(series))
		for d, v := range series {
			dates[d] = v
		}
		p.Metrics[key] = dates
	}
	return p
}

// ToJSON writes the payload to path, pretty-printed.
func ToJSON(p Payload, path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write json file: %w", err)
	}
	return nil
}

// Upload POSTs the payload with a bearer token. Network errors come back
// as-is (transient, retryable by the caller's scheduler); 4xx responses
// wrap ErrPermanent.
func Upload(ctx context.Context, client *http.Client, url, token string, p Payload) error {
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("upload rejected with %d: %w", resp.StatusCode, ErrPermanent)
	default:
		return fmt.Errorf("upload failed with %d", resp.StatusCode)
	}
}
