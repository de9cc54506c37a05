package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orchestrator/internal/domain"
)

// RemoteScorer calls an external quality-metric service. Any transport or
// decoding failure is reported as domain.ErrScorerUnavailable so the
// selection engine can fall back without failing the job.
type RemoteScorer struct {
	url        string
	httpClient *http.Client
}

func NewRemoteScorer(url string, httpClient *http.Client) *RemoteScorer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RemoteScorer{url: strings.TrimRight(url, "/"), httpClient: httpClient}
}

func (s *RemoteScorer) Name() string { return "remote" }

type scoreRequest struct {
	ArtifactRef string `json:"artifact_ref"`
}

type scoreResponse struct {
	Dimensions map[string]float64 `json:"dimensions"`
}

func (s *RemoteScorer) Score(ctx context.Context, artifactRef string) (map[string]float64, error) {
	if s.url == "" {
		return nil, fmt.Errorf("scorer: url not configured: %w", domain.ErrScorerUnavailable)
	}
	body, err := json.Marshal(scoreRequest{ArtifactRef: artifactRef})
	if err != nil {
		return nil, fmt.Errorf("scorer: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("scorer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scorer: request failed: %w: %v", domain.ErrScorerUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("scorer: read response: %w: %v", domain.ErrScorerUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scorer: status %d: %w", resp.StatusCode, domain.ErrScorerUnavailable)
	}
	var parsed scoreResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("scorer: decode response: %w: %v", domain.ErrScorerUnavailable, err)
	}
	if len(parsed.Dimensions) == 0 {
		return nil, fmt.Errorf("scorer: empty dimensions: %w", domain.ErrScorerUnavailable)
	}
	return parsed.Dimensions, nil
}

var _ Scorer = (*RemoteScorer)(nil)
