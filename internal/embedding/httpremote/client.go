// Package httpremote is the remote HTTP embedding adapter: a small
// provider registry (TEI, OpenAI-compatible, Cohere-compatible) sharing
// one plain net/http transport, generalized from a single TEI-shaped
// client into several request/response codecs.
package httpremote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codeindex-dev/codeindex/internal/embedding"
	"github.com/codeindex-dev/codeindex/internal/errs"
)

// ProviderKind selects the wire dialect spoken to BaseURL.
type ProviderKind string

const (
	ProviderTEI    ProviderKind = "tei"
	ProviderOpenAI ProviderKind = "openai"
	ProviderCohere ProviderKind = "cohere"
)

// Config configures the remote HTTP embedding adapter.
type Config struct {
	Provider ProviderKind
	BaseURL  string
	Model    string
	APIKey   string

	// Dimension, if set, is returned directly by DetectDimension instead
	// of probing the provider.
	Dimension int

	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderTEI
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// codec builds the provider-specific request body and parses its
// provider-specific response shape; every codec shares the Client's
// transport, headers, and error handling.
type codec interface {
	path() string
	buildRequest(cfg Config, texts []string) any
	parseResponse(body []byte) ([][]float32, error)
	authHeader(cfg Config) (key, value string)
}

func codecFor(kind ProviderKind) (codec, error) {
	switch kind {
	case ProviderTEI:
		return teiCodec{}, nil
	case ProviderOpenAI:
		return openAICodec{}, nil
	case ProviderCohere:
		return cohereCodec{}, nil
	default:
		return nil, errs.New(errs.KindInvalidInput, "httpremote.config", fmt.Sprintf("unsupported provider %q", kind))
	}
}

// Client implements embedding.Port against one configured remote
// provider.
type Client struct {
	config     Config
	httpClient *http.Client
	codec      codec
}

// New builds the adapter; it performs no network calls until first use.
func New(cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		return nil, errs.New(errs.KindInvalidInput, "httpremote.config", "base URL is required")
	}
	c, err := codecFor(cfg.Provider)
	if err != nil {
		return nil, err
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		codec:      c,
	}, nil
}

func (c *Client) Provider() embedding.Provider {
	return embedding.Provider{ID: string(c.config.Provider), Name: c.config.Model}
}

func (c *Client) DetectDimension(ctx context.Context, opts embedding.DetectOptions) (int, error) {
	if c.config.Dimension > 0 {
		return c.config.Dimension, nil
	}
	probe := opts.ProbeText
	if probe == "" {
		probe = "dimension probe"
	}
	vecs, err := c.EmbedBatch(ctx, []string{probe})
	if err != nil {
		return 0, err
	}
	return vecs[0].Dimension(), nil
}

func (c *Client) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	if text == "" {
		return embedding.Vector{}, errs.New(errs.KindInvalidInput, "httpremote.embed", "text must not be empty")
	}
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return embedding.Vector{}, err
	}
	return vecs[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	if len(texts) == 0 {
		return nil, errs.New(errs.KindInvalidInput, "httpremote.embed_batch", "texts must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Cancelled("httpremote.embed_batch")
	}

	reqBody := c.codec.buildRequest(c.config, texts)
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "httpremote.embed_batch", "failed to marshal request body", err)
	}

	endpoint := strings.TrimSuffix(c.config.BaseURL, "/") + c.codec.path()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "httpremote.embed_batch", "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key, value := c.codec.authHeader(c.config); key != "" {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Cancelled("httpremote.embed_batch")
		}
		return nil, errs.Wrap(errs.KindUnavailable, "httpremote.embed_batch", "request transport failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "httpremote.embed_batch", "failed to read response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp.StatusCode, string(respBody))
	}

	raw, err := c.codec.parseResponse(respBody)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidResponse, "httpremote.embed_batch", "failed to decode provider response", err)
	}
	if len(raw) != len(texts) {
		return nil, errs.New(errs.KindInvalidResponse, "httpremote.embed_batch",
			fmt.Sprintf("provider returned %d vectors for %d inputs", len(raw), len(texts)))
	}

	vectors := make([]embedding.Vector, len(raw))
	for i, v := range raw {
		vectors[i] = embedding.Vector{Data: v}
	}
	return vectors, nil
}

func classifyHTTPError(status int, body string) error {
	msg := fmt.Sprintf("http %d: %s", status, body)
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return errs.New(errs.KindInvalidInput, "httpremote.embed_batch", msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.New(errs.KindInvalidInput, "httpremote.embed_batch", msg)
	case status == http.StatusTooManyRequests:
		return errs.New(errs.KindRateLimited, "httpremote.embed_batch", msg)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return errs.New(errs.KindTimeout, "httpremote.embed_batch", msg)
	default:
		return errs.New(errs.KindUnavailable, "httpremote.embed_batch", msg)
	}
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

var _ embedding.Port = (*Client)(nil)

// teiRequest mirrors the teacher's TEI request body exactly (inputs +
// truncate), generalized to always send a batch of texts.
type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

type teiCodec struct{}

func (teiCodec) path() string { return "/embed" }

func (teiCodec) buildRequest(_ Config, texts []string) any {
	return teiRequest{Inputs: texts, Truncate: true}
}

func (teiCodec) parseResponse(body []byte) ([][]float32, error) {
	var vectors [][]float32
	if err := json.Unmarshal(body, &vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (teiCodec) authHeader(cfg Config) (string, string) {
	if cfg.APIKey == "" {
		return "", ""
	}
	return "Authorization", "Bearer " + cfg.APIKey
}

type openAIRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type openAICodec struct{}

func (openAICodec) path() string { return "/v1/embeddings" }

func (openAICodec) buildRequest(cfg Config, texts []string) any {
	return openAIRequest{Input: texts, Model: cfg.Model}
}

func (openAICodec) parseResponse(body []byte) ([][]float32, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (openAICodec) authHeader(cfg Config) (string, string) {
	if cfg.APIKey == "" {
		return "", ""
	}
	return "Authorization", "Bearer " + cfg.APIKey
}

type cohereRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type cohereResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type cohereCodec struct{}

func (cohereCodec) path() string { return "/v1/embed" }

func (cohereCodec) buildRequest(cfg Config, texts []string) any {
	return cohereRequest{Texts: texts, Model: cfg.Model, InputType: "search_document"}
}

func (cohereCodec) parseResponse(body []byte) ([][]float32, error) {
	var resp cohereResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

func (cohereCodec) authHeader(cfg Config) (string, string) {
	if cfg.APIKey == "" {
		return "", ""
	}
	return "Authorization", "Bearer " + cfg.APIKey
}
