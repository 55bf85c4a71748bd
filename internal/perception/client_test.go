package perception

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"planwright/internal/plan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSONResponse(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n[1,2]\n```", `[1,2]`},
		{`{"plain":true}`, `{"plain":true}`},
		{"  \n{\"ws\":1}\n ", `{"ws":1}`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CleanJSONResponse(tc.in))
	}
}

func TestOpenAIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClientWithConfig(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
	})

	out, err := c.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestOpenAIClientServerErrorIsBackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOpenAIClientWithConfig(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second})

	_, err := c.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, plan.ErrBackendUnavailable))
}

func TestOpenAIClientBadRequestIsNotBackendUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad prompt"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClientWithConfig(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "m", Timeout: 5 * time.Second})

	_, err := c.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.False(t, errors.Is(err, plan.ErrBackendUnavailable))
}

func TestOpenAIClientRequiresAPIKey(t *testing.T) {
	c := NewOpenAIClient("")
	_, err := c.Complete(context.Background(), "hi")
	assert.ErrorContains(t, err, "API key")
}

func TestOpenAIClientNetworkErrorIsBackendUnavailable(t *testing.T) {
	// Closed server -> connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewOpenAIClientWithConfig(OpenAIConfig{APIKey: "k", BaseURL: url, Model: "m", Timeout: time.Second})
	_, err := c.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, plan.ErrBackendUnavailable))
}
