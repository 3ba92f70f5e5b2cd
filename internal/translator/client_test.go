package translator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subrelay/internal/subtitle"
	"subrelay/pkg/errors"
	"subrelay/pkg/log"
	"subrelay/pkg/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 2, InitialDelay: time.Millisecond, ExponentialBase: 2, MaxDelay: time.Millisecond}
}

func completion(content, finishReason string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}, "finish_reason": finishReason},
		},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 20},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func newTestClient(t *testing.T, model string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:             srv.URL,
		APIKey:              "key",
		Model:               model,
		MaxCompletionTokens: 4000,
		Temperature:         0.3,
		RequestTimeout:      5 * time.Second,
		Retry:               fastPolicy(),
	}, nil, log.Nop())
}

func TestTranslateBatchHappyPath(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, "gpt-4o", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(completion("[1]\nHola\n\n[2]\nMundo", "stop")))
	})

	res, err := c.TranslateBatch(context.Background(), []string{"Hello", "World"}, "en", "es")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hola", "Mundo"}, res.Translations)
	assert.Equal(t, []int{1, 2}, res.ParsedNumbers)

	// 非 nano 模型带温度
	assert.Contains(t, gotBody, "temperature")
	assert.Equal(t, "gpt-4o", gotBody["model"])
}

func TestNanoModelOmitsTemperature(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, "gpt-5-nano", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(completion("[1]\nHola", "stop")))
	})

	_, err := c.TranslateBatch(context.Background(), []string{"Hello"}, "en", "es")
	require.NoError(t, err)
	assert.NotContains(t, gotBody, "temperature")
}

func TestTruncatedWithContentProceeds(t *testing.T) {
	c := newTestClient(t, "gpt-4o", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completion("[1]\nHola", "length")))
	})
	res, err := c.TranslateBatch(context.Background(), []string{"Hello"}, "en", "es")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hola"}, res.Translations)
}

func TestReasoningBudgetPathology(t *testing.T) {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": ""}, "finish_reason": "length"},
		},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": 4000,
			"completion_tokens_details": map[string]any{
				"reasoning_tokens": 3900,
			},
		},
	}
	body, _ := json.Marshal(resp)
	c := newTestClient(t, "gpt-4o", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	})

	_, err := c.TranslateBatch(context.Background(), []string{"Hello"}, "en", "es")
	require.Error(t, err)
	assert.True(t, errors.IsPermanent(err), "reasoning pathology must not be retried: %v", err)
	assert.Contains(t, err.Error(), "reasoning tokens")
}

func TestCountMismatchIsTransientAndRetried(t *testing.T) {
	calls := 0
	c := newTestClient(t, "gpt-4o", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// 缺两条：不可容忍
			_, _ = w.Write([]byte(completion("[1]\nUno", "stop")))
			return
		}
		_, _ = w.Write([]byte(completion("[1]\nUno\n\n[2]\nDos\n\n[3]\nTres", "stop")))
	})

	res, err := c.TranslateBatch(context.Background(), []string{"One", "Two", "Three"}, "en", "es")
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "mismatch must trigger a retry of the same batch")
	assert.Len(t, res.Translations, 3)
}

func TestCountMismatchSurfacesAfterExhaustion(t *testing.T) {
	c := newTestClient(t, "gpt-4o", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completion("[1]\nUno", "stop")))
	})
	_, err := c.TranslateBatch(context.Background(), []string{"One", "Two", "Three"}, "en", "es")
	require.Error(t, err)
	assert.ErrorIs(t, err, subtitle.ErrCountMismatch)
}

func TestOneMissingTolerated(t *testing.T) {
	c := newTestClient(t, "gpt-4o", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completion("[1]\nUno\n\n[3]\nTres", "stop")))
	})
	res, err := c.TranslateBatch(context.Background(), []string{"One", "Two", "Three"}, "en", "es")
	require.NoError(t, err)
	assert.Equal(t, []string{"Uno", "Tres"}, res.Translations)
	assert.Equal(t, []int{1, 3}, res.ParsedNumbers)
}

func TestServerErrorRetried(t *testing.T) {
	calls := 0
	c := newTestClient(t, "gpt-4o", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(completion("[1]\nHola", "stop")))
	})
	_, err := c.TranslateBatch(context.Background(), []string{"Hello"}, "en", "es")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestClientErrorPermanent(t *testing.T) {
	calls := 0
	c := newTestClient(t, "gpt-4o", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := c.TranslateBatch(context.Background(), []string{"Hello"}, "en", "es")
	require.Error(t, err)
	assert.Equal(t, 1, calls, "4xx must not be retried")
	assert.True(t, errors.IsPermanent(err))
}

func TestEmptyBatchShortCircuits(t *testing.T) {
	c := newTestClient(t, "gpt-4o", func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty batch")
	})
	res, err := c.TranslateBatch(context.Background(), nil, "en", "es")
	require.NoError(t, err)
	assert.Empty(t, res.Translations)
}
