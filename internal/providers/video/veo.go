package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"orchestrator/internal/domain"
	"orchestrator/internal/infra"
	"orchestrator/internal/providers/genai"
)

const (
	defaultVeoModel    = "veo-2.0-generate-001"
	veoPollInterval    = 5 * time.Second
	veoCentsPerSecond  = 35
	veoMaxClipSeconds  = 8
	operationSizeLimit = 4 << 20
)

// VeoOptions configures the Veo generator.
type VeoOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// VeoGenerator drives the long-running Veo video generation API: submit a
// predictLongRunning call, then poll the returned operation until it settles
// or the context deadline expires. An unconfigured generator reports a
// permanent error so the executor falls through to the next provider.
type VeoGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewVeoGenerator(opts VeoOptions) *VeoGenerator {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultVeoModel
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &VeoGenerator{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

func (g *VeoGenerator) Name() string { return "veo" }

type veoPredictRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

type veoInstance struct {
	Prompt string `json:"prompt"`
}

type veoParameters struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	NegativePrompt  string `json:"negativePrompt,omitempty"`
	Seed            int64  `json:"seed,omitempty"`
}

type veoOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response"`
}

func (g *VeoGenerator) Generate(ctx context.Context, req GenerateRequest) (*Clip, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("veo: api key missing: %w", domain.ErrProviderPermanent)
	}
	duration := req.DurationSeconds
	if duration <= 0 || duration > veoMaxClipSeconds {
		duration = veoMaxClipSeconds
	}
	op, err := g.submit(ctx, req, duration)
	if err != nil {
		return nil, err
	}
	uri, err := g.await(ctx, op)
	if err != nil {
		return nil, err
	}
	return &Clip{
		ArtifactRef:     uri,
		Format:          "video/mp4",
		DurationSeconds: duration,
		CostCents:       int64(duration) * veoCentsPerSecond,
	}, nil
}

func (g *VeoGenerator) submit(ctx context.Context, req GenerateRequest, duration int) (string, error) {
	payload := veoPredictRequest{
		Instances: []veoInstance{{Prompt: req.Prompt}},
		Parameters: veoParameters{
			AspectRatio:     req.AspectRatio,
			DurationSeconds: duration,
			NegativePrompt:  req.NegativePrompt,
			Seed:            req.Seed,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("veo: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning?key=%s", g.baseURL, g.model, url.QueryEscape(g.apiKey))
	var op veoOperation
	if err := g.do(ctx, http.MethodPost, endpoint, body, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", fmt.Errorf("veo: missing operation name: %w", domain.ErrProviderTransient)
	}
	return op.Name, nil
}

func (g *VeoGenerator) await(ctx context.Context, opName string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s?key=%s", g.baseURL, opName, url.QueryEscape(g.apiKey))
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(veoPollInterval):
		}
		var op veoOperation
		if err := g.do(ctx, http.MethodGet, endpoint, nil, &op); err != nil {
			return "", err
		}
		if !op.Done {
			continue
		}
		if op.Error != nil {
			return "", fmt.Errorf("veo: operation failed: %s: %w", op.Error.Message, genai.ClassifyStatus(op.Error.Code))
		}
		if op.Response == nil || len(op.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
			return "", fmt.Errorf("veo: operation returned no samples: %w", domain.ErrProviderTransient)
		}
		uri := op.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI
		if uri == "" {
			return "", fmt.Errorf("veo: sample missing uri: %w", domain.ErrProviderTransient)
		}
		return uri, nil
	}
}

func (g *VeoGenerator) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("veo: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("veo: request timed out: %w", context.DeadlineExceeded)
		}
		return fmt.Errorf("veo: request failed: %w: %v", domain.ErrProviderTransient, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, operationSizeLimit))
	if err != nil {
		return fmt.Errorf("veo: read response: %w: %v", domain.ErrProviderTransient, err)
	}
	if err := genai.ClassifyStatus(resp.StatusCode); err != nil {
		if g.logger != nil {
			g.logger.Warn().Int("status", resp.StatusCode).Str("model", g.model).Msg("veo: call failed")
		}
		return fmt.Errorf("veo: status %d: %w", resp.StatusCode, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("veo: decode response: %w: %v", domain.ErrProviderTransient, err)
	}
	return nil
}

var _ Generator = (*VeoGenerator)(nil)
