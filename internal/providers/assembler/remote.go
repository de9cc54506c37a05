package assembler

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

// RemoteAssembler submits the clip list to an external render service and
// returns the reference of the rendered asset.
type RemoteAssembler struct {
	url        string
	httpClient *http.Client
}

func NewRemoteAssembler(url string, httpClient *http.Client) *RemoteAssembler {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &RemoteAssembler{url: strings.TrimRight(url, "/"), httpClient: httpClient}
}

type renderRequest struct {
	Clips []string     `json:"clips"`
	Spec  AssemblySpec `json:"spec"`
}

type renderResponse struct {
	ArtifactRef string `json:"artifact_ref"`
}

func (a *RemoteAssembler) Assemble(ctx context.Context, clipRefs []string, spec AssemblySpec) (string, error) {
	if len(clipRefs) == 0 {
		return "", fmt.Errorf("assemble: no clips to assemble")
	}
	body, err := json.Marshal(renderRequest{Clips: clipRefs, Spec: spec})
	if err != nil {
		return "", fmt.Errorf("assemble: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+"/render", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("assemble: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("assemble: request failed: %w: %v", domain.ErrProviderTransient, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("assemble: read response: %w: %v", domain.ErrProviderTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		class := domain.ErrProviderPermanent
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			class = domain.ErrProviderTransient
		}
		return "", fmt.Errorf("assemble: status %d: %w", resp.StatusCode, class)
	}
	var parsed renderResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("assemble: decode response: %w", err)
	}
	if parsed.ArtifactRef == "" {
		return "", fmt.Errorf("assemble: response missing artifact ref")
	}
	return parsed.ArtifactRef, nil
}

var _ Assembler = (*RemoteAssembler)(nil)
