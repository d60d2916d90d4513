package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorIs(t, cfg.Validate(), ErrNoAPIKey)

	cfg.Apply(WithAPIKey("k"), WithModel(""))
	assert.ErrorIs(t, cfg.Validate(), ErrNoModel)

	cfg.Apply(WithModel("m"), WithTemperature(0.9), WithMaxTokens(10))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.9, cfg.Temperature)
	assert.Equal(t, 10, cfg.MaxTokens)
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background())
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func newFakeGemini(t *testing.T, handler http.HandlerFunc) *Gemini {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGemini(context.Background(),
		WithAPIKey("test-key"),
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithModel("gemini-test"),
	)
	require.NoError(t, err)
	return g
}

func TestGemini_Generate(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	g := newFakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "func Reverse() {}"}]}}],
			"usageMetadata": {"promptTokenCount": 3, "candidatesTokenCount": 4, "totalTokenCount": 7}
		}`))
	})

	resp, err := g.Generate(context.Background(), &Request{
		Prompt: "reverse a string",
		System: "you write go",
	})
	require.NoError(t, err)

	assert.Equal(t, "func Reverse() {}", resp.Text)
	assert.Equal(t, "gemini-test", resp.Model)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.True(t, strings.HasSuffix(gotPath, "models/gemini-test:generateContent"), gotPath)
	assert.Contains(t, gotBody, "systemInstruction")
	assert.Equal(t, "gemini", g.Name())
}

func TestGemini_EmptyResponse(t *testing.T) {
	g := newFakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates": []}`))
	})

	_, err := g.Generate(context.Background(), &Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGemini_APIError(t *testing.T) {
	g := newFakeGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"code": 400, "message": "bad prompt", "status": "INVALID_ARGUMENT"}}`))
	})

	_, err := g.Generate(context.Background(), &Request{Prompt: "x"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.False(t, apiErr.IsRetryable())
}

func TestAPIError_Predicates(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 429}).IsRateLimited())
	assert.True(t, (&APIError{StatusCode: 503}).IsRetryable())
	assert.True(t, (&APIError{StatusCode: 401}).IsUnauthorized())
	assert.Contains(t, (&APIError{StatusCode: 500, Status: "INTERNAL", Backend: "gemini"}).Error(), "INTERNAL")
}

func TestChainFallback(t *testing.T) {
	failing := WithError(errors.New("backend 1 failed"))
	working := NewMock("from working backend")

	chain, err := NewChain(nil, failing, working)
	require.NoError(t, err)

	resp, err := chain.Generate(context.Background(), &Request{Prompt: "test"})
	require.NoError(t, err)
	assert.Equal(t, "from working backend", resp.Text)
	assert.Equal(t, 1, failing.CallCount())
	assert.Equal(t, "test", working.LastCall().Request.Prompt)
	assert.Equal(t, "chain(mock,mock)", chain.Name())
}

func TestChainAllFail(t *testing.T) {
	chain, err := NewChain(nil,
		WithError(errors.New("backend 1 failed")),
		WithError(errors.New("backend 2 failed")),
	)
	require.NoError(t, err)

	_, err = chain.Generate(context.Background(), &Request{Prompt: "test"})
	var chainErr *ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Len(t, chainErr.Errors, 2)
	assert.Contains(t, chainErr.Error(), "backend 2 failed")
}

func TestChainCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	second := NewMock("unused")
	chain, err := NewChain(nil, WithError(errors.New("fail")), second)
	require.NoError(t, err)

	_, err = chain.Generate(ctx, &Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, second.CallCount())
}

func TestNewChainEmpty(t *testing.T) {
	_, err := NewChain(nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}
