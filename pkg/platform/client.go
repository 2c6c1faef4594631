package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/indigoops/indigo/pkg/engine"
)

const (
	// DefaultBaseURL is the platform API root.
	DefaultBaseURL = "https://services.leadconnectorhq.com"

	// DefaultAPIVersion is sent in the Version header.
	DefaultAPIVersion = "2021-07-28"

	// DefaultTimeout bounds a single provisioning call.
	DefaultTimeout = 15 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// Config configures the HTTP client.
type Config struct {
	BaseURL    string        `yaml:"base_url" validate:"required,url"`
	APIVersion string        `yaml:"api_version" validate:"required"`
	Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
	UserAgent  string        `yaml:"user_agent"`
}

// DefaultConfig returns the production platform configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		APIVersion: DefaultAPIVersion,
		Timeout:    DefaultTimeout,
		UserAgent:  "indigo",
	}
}

// HTTPClient sends provisioning calls with the bearer token stored for the
// tenant. It returns a response for every status code.
type HTTPClient struct {
	baseURL     string
	cfg         Config
	credentials engine.CredentialStore
	http        *http.Client
	logger      zerolog.Logger
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) {
		h.http = c
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(h *HTTPClient) {
		h.logger = logger.With().Str("component", "platform").Logger()
	}
}

// NewHTTPClient creates a client for cfg, reading tokens from credentials.
func NewHTTPClient(cfg Config, credentials engine.CredentialStore, opts ...ClientOption) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("platform base URL is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &HTTPClient{
		baseURL:     baseURL,
		cfg:         cfg,
		credentials: credentials,
		http:        &http.Client{Timeout: cfg.Timeout},
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Create sends one provisioning request.
func (c *HTTPClient) Create(ctx context.Context, req engine.ProvisionRequest) (*engine.ProvisionResponse, error) {
	creds, err := c.credentials.GetCredentials(ctx, req.TenantID)
	if err != nil {
		if engine.IsNotFound(err) {
			return nil, engine.NewPermanentError("no platform credentials for location", err).
				WithCode(engine.ErrCodeCredentialsMissing).
				WithResource(req.TenantID)
		}
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(req.Payload) > 0 {
		body = bytes.NewReader(req.Payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+req.Endpoint, body)
	if err != nil {
		return nil, engine.NewPermanentError("failed to build platform request", err).
			WithCode(engine.ErrCodeInternal)
	}
	httpReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	httpReq.Header.Set("Version", c.cfg.APIVersion)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	if c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, engine.NewTransientError("platform request cancelled", ctx.Err()).
				WithCode(engine.ErrCodeCancelled)
		}
		return nil, engine.NewTransientError("platform request failed", err).
			WithCode(engine.ErrCodeTransport)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, engine.NewTransientError("failed to read platform response", err).
			WithCode(engine.ErrCodeTransport)
	}

	c.logger.Debug().
		Str("method", method).
		Str("endpoint", req.Endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Platform call")

	return &engine.ProvisionResponse{
		StatusCode: resp.StatusCode,
		ResourceID: ExtractResourceID(payload),
		Body:       payload,
	}, nil
}

// ExtractResourceID finds the created resource id in a response body. It
// accepts a top-level "id" or an "id" inside a top-level object such as
// {"tag": {"id": "..."}}. It returns "" when no id is present.
func ExtractResourceID(body []byte) string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}

	if id := stringID(doc["id"]); id != "" {
		return id
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(doc[k], &nested); err != nil {
			continue
		}
		if id := stringID(nested["id"]); id != "" {
			return id
		}
	}
	return ""
}

func stringID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
