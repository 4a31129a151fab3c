package watsonx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghgrag/internal/domain"
)

type fakeCloud struct {
	mu          sync.Mutex
	tokenCalls  int
	genCalls    int
	failFirst   int
	status      int
	retryAfter  string
	lastRequest generationRequest
	lastAuth    string
	lastVersion string
	lastForm    map[string]string
}

func (f *fakeCloud) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/identity/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.tokenCalls++
		assert.NoError(t, r.ParseForm())
		f.lastForm = map[string]string{"grant_type": r.FormValue("grant_type"), "apikey": r.FormValue("apikey")}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/ml/v1/text/generation", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.genCalls++
		f.lastAuth = r.Header.Get("Authorization")
		f.lastVersion = r.URL.Query().Get("version")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastRequest))
		if f.genCalls <= f.failFirst {
			after := f.retryAfter
			if after == "" {
				after = "0"
			}
			w.Header().Set("Retry-After", after)
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"errors":[{"message":"busy"}]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"generated_text": "  The factor is 0.6.  "}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, retries int) *Client {
	t.Helper()
	return newTestClientWithTimeout(t, srv, retries, 5*time.Second)
}

func newTestClientWithTimeout(t *testing.T, srv *httptest.Server, retries int, timeout time.Duration) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:     "secret-key",
		CloudURL:   srv.URL + "/",
		ProjectID:  "proj-1",
		IAMURL:     srv.URL + "/identity/token",
		MaxRetries: retries,
		Timeout:    timeout,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{APIKey: "k", CloudURL: "https://x"})
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	f := &fakeCloud{}
	c := newTestClient(t, f.server(t), 0)

	got, err := c.Generate(context.Background(), "What is the factor?")
	require.NoError(t, err)
	assert.Equal(t, "The factor is 0.6.", got)
	assert.Equal(t, DefaultModelID, c.ModelName())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "Bearer tok-123", f.lastAuth)
	assert.Equal(t, DefaultAPIVersion, f.lastVersion)
	assert.Equal(t, "What is the factor?", f.lastRequest.Input)
	assert.Equal(t, "proj-1", f.lastRequest.ProjectID)
	assert.Equal(t, DefaultModelID, f.lastRequest.ModelID)
	assert.Equal(t, 512, f.lastRequest.Parameters.MaxNewTokens)
	assert.Equal(t, grantType, f.lastForm["grant_type"])
	assert.Equal(t, "secret-key", f.lastForm["apikey"])
}

func TestTokenIsCachedUntilNearExpiry(t *testing.T) {
	f := &fakeCloud{}
	c := newTestClient(t, f.server(t), 0)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	for range 3 {
		_, err := c.Generate(context.Background(), "q")
		require.NoError(t, err)
	}
	f.mu.Lock()
	assert.Equal(t, 1, f.tokenCalls)
	f.mu.Unlock()

	now = now.Add(3600*time.Second - tokenSkew + time.Second)
	_, err := c.Generate(context.Background(), "q")
	require.NoError(t, err)
	f.mu.Lock()
	assert.Equal(t, 2, f.tokenCalls)
	f.mu.Unlock()
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	f := &fakeCloud{failFirst: 2, status: http.StatusServiceUnavailable}
	c := newTestClient(t, f.server(t), 2)

	got, err := c.Generate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "The factor is 0.6.", got)
	f.mu.Lock()
	assert.Equal(t, 3, f.genCalls)
	f.mu.Unlock()
}

func TestGenerateGivesUpWithHostedModelError(t *testing.T) {
	f := &fakeCloud{failFirst: 10, status: http.StatusBadRequest}
	c := newTestClient(t, f.server(t), 2)

	_, err := c.Generate(context.Background(), "q")
	var hm *domain.HostedModelError
	require.True(t, errors.As(err, &hm), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, hm.StatusCode)
	assert.Equal(t, "generate", hm.Op)
	f.mu.Lock()
	assert.Equal(t, 1, f.genCalls, "client errors are not retried")
	f.mu.Unlock()
}

func TestTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv, 2)

	_, err := c.Generate(context.Background(), "q")
	var hm *domain.HostedModelError
	require.True(t, errors.As(err, &hm))
	assert.Equal(t, "token", hm.Op)
}

func TestEmptyResults(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/identity/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"t","expiration":4102444800}`))
	})
	mux.HandleFunc("/ml/v1/text/generation", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	_, err := newTestClient(t, srv, 0).Generate(context.Background(), "q")
	var hm *domain.HostedModelError
	assert.True(t, errors.As(err, &hm))
}

func TestGenerateIsBoundedByTimeoutDespiteRetryAfter(t *testing.T) {
	f := &fakeCloud{failFirst: 1, status: http.StatusServiceUnavailable, retryAfter: "3600"}
	c := newTestClientWithTimeout(t, f.server(t), 1, time.Second)

	start := time.Now()
	_, err := c.Generate(context.Background(), "q")
	elapsed := time.Since(start)

	var hm *domain.HostedModelError
	require.True(t, errors.As(err, &hm), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestRetryAfterIsCapped(t *testing.T) {
	err := &retryAfterError{HostedModelError: &domain.HostedModelError{Op: "generate", StatusCode: 429}, after: "3600"}
	assert.Equal(t, maxRetryDelay, lastDelay(err, 0))
	err.after = "1"
	assert.Equal(t, time.Second, lastDelay(err, 0))
	assert.Equal(t, retryDelay(2), lastDelay(errors.New("x"), 2))
	assert.Equal(t, maxRetryDelay, retryDelay(20))
}
