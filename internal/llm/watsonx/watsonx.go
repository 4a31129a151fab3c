// Package watsonx is a minimal client for IBM watsonx.ai text generation.
package watsonx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"ghgrag/internal/domain"
)

const (
	DefaultModelID    = "meta-llama/llama-3-405b-instruct"
	DefaultIAMURL     = "https://iam.cloud.ibm.com/identity/token"
	DefaultAPIVersion = "2023-05-29"

	grantType = "urn:ibm:params:oauth:grant-type:apikey"
	// tokens are refreshed this long before they expire
	tokenSkew = 60 * time.Second
	// upper bound for backoff and server-sent Retry-After
	maxRetryDelay = 5 * time.Second
)

// Config configures the generation client.
type Config struct {
	APIKey    string
	CloudURL  string
	ProjectID string

	ModelID      string
	IAMURL       string
	APIVersion   string
	Timeout      time.Duration
	MaxRetries   int
	MaxNewTokens int
}

// Client exchanges an API key for an IAM bearer token and calls the
// text generation endpoint with it.
type Client struct {
	cfg    Config
	client *http.Client
	now    func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.CloudURL == "" || cfg.ProjectID == "" {
		return nil, errors.New("watsonx: api key, cloud url and project id are required")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.IAMURL == "" {
		cfg.IAMURL = DefaultIAMURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxNewTokens <= 0 {
		cfg.MaxNewTokens = 512
	}
	cfg.CloudURL = strings.TrimRight(cfg.CloudURL, "/")
	return &Client{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, now: time.Now}, nil
}

// ModelName returns the configured model id.
func (c *Client) ModelName() string { return c.cfg.ModelID }

type generationRequest struct {
	ModelID    string               `json:"model_id"`
	Input      string               `json:"input"`
	ProjectID  string               `json:"project_id"`
	Parameters generationParameters `json:"parameters"`
}

type generationParameters struct {
	DecodingMethod string `json:"decoding_method"`
	MaxNewTokens   int    `json:"max_new_tokens"`
}

type generationResponse struct {
	Results []struct {
		GeneratedText string `json:"generated_text"`
	} `json:"results"`
}

// Generate sends prompt to the model and returns the first generated text.
// The whole call, retries and waits included, is bounded by Config.Timeout.
// Every failure is a *domain.HostedModelError.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(generationRequest{
		ModelID:   c.cfg.ModelID,
		Input:     prompt,
		ProjectID: c.cfg.ProjectID,
		Parameters: generationParameters{
			DecodingMethod: "greedy",
			MaxNewTokens:   c.cfg.MaxNewTokens,
		},
	})
	if err != nil {
		return "", &domain.HostedModelError{Op: "generate", Err: err}
	}
	endpoint := c.cfg.CloudURL + "/ml/v1/text/generation?version=" + url.QueryEscape(c.cfg.APIVersion)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, lastDelay(lastErr, attempt-1)); err != nil {
				return "", &domain.HostedModelError{Op: "generate", Err: err}
			}
		}
		token, err := c.bearer(ctx)
		if err != nil {
			return "", err
		}
		text, err := c.generateOnce(ctx, endpoint, token, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) generateOnce(ctx context.Context, endpoint, token string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &domain.HostedModelError{Op: "generate", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &domain.HostedModelError{Op: "generate", Err: err}
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.HostedModelError{Op: "generate", Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidate()
	}
	if resp.StatusCode >= 300 {
		return "", &retryAfterError{
			HostedModelError: &domain.HostedModelError{Op: "generate", StatusCode: resp.StatusCode, Err: errors.New(snippet(payload))},
			after:            resp.Header.Get("Retry-After"),
		}
	}
	var out generationResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", &domain.HostedModelError{Op: "generate", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Results) == 0 {
		return "", &domain.HostedModelError{Op: "generate", Err: errors.New("no results in response")}
	}
	return strings.TrimSpace(out.Results[0].GeneratedText), nil
}

// bearer returns a cached IAM token or fetches a fresh one.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.expiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("apikey", c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.IAMURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &domain.HostedModelError{Op: "token", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &domain.HostedModelError{Op: "token", Err: err}
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.HostedModelError{Op: "token", Err: err}
	}
	if resp.StatusCode >= 300 {
		return "", &domain.HostedModelError{Op: "token", StatusCode: resp.StatusCode, Err: errors.New(snippet(payload))}
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		Expiration  int64  `json:"expiration"`
	}
	if err := json.Unmarshal(payload, &tok); err != nil {
		return "", &domain.HostedModelError{Op: "token", Err: fmt.Errorf("decode token: %w", err)}
	}
	if tok.AccessToken == "" {
		return "", &domain.HostedModelError{Op: "token", Err: errors.New("empty access token")}
	}
	now := c.now()
	expiry := now.Add(time.Hour)
	switch {
	case tok.Expiration > 0:
		expiry = time.Unix(tok.Expiration, 0)
	case tok.ExpiresIn > 0:
		expiry = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	c.token = tok.AccessToken
	c.expiry = expiry.Add(-tokenSkew)
	return c.token, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

type retryAfterError struct {
	*domain.HostedModelError
	after string
}

func (e *retryAfterError) Unwrap() error { return e.HostedModelError }

func retryable(err error) bool {
	var hm *domain.HostedModelError
	if !errors.As(err, &hm) {
		return false
	}
	if hm.Op != "generate" {
		return false
	}
	return hm.StatusCode == 0 || hm.StatusCode == http.StatusTooManyRequests ||
		hm.StatusCode == http.StatusUnauthorized || hm.StatusCode >= 500
}

func lastDelay(err error, attempt int) time.Duration {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		if secs, convErr := strconv.Atoi(ra.after); convErr == nil && secs >= 0 {
			return min(time.Duration(secs)*time.Second, maxRetryDelay)
		}
	}
	return retryDelay(attempt)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "empty response body"
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return min(200*time.Millisecond<<attempt, maxRetryDelay)
}
