package aiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latchkey-labs/pileup/internal/common"
	"github.com/latchkey-labs/pileup/internal/config"
	"github.com/latchkey-labs/pileup/internal/model"
)

func newOpenAIServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		resp := openAIChatResponse{}
		resp.Choices = []struct {
			Message openAIChatMessage `json:"message"`
		}{{Message: openAIChatMessage{Role: "assistant", Content: content}}}
		resp.Usage.PromptTokens = 10
		resp.Usage.CompletionTokens = 5
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	return httptest.NewServer(mux)
}

func newOllamaServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		resp := ollamaGenerateResponse{Response: content, PromptEvalCount: 8, EvalCount: 3}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	return httptest.NewServer(mux)
}

func newPool(t *testing.T, url, model string, maxRetries int) *Pool {
	t.Helper()
	p, err := NewPool([]config.Endpoint{{URL: url, Model: model, Workers: 2}}, 2*time.Second, maxRetries)
	require.NoError(t, err)
	return p
}

func TestClassifyFolder_OpenAIEndpointKeep(t *testing.T) {
	srv := newOpenAIServer(t, `{"decision":"keep","category":"Code/Project","confidence":0.9}`)
	defer srv.Close()

	p := newPool(t, srv.URL, "gpt-test", 2)
	res, err := p.ClassifyFolder(context.Background(), FolderRequest{FolderName: "myproject"})
	require.NoError(t, err)
	assert.Equal(t, model.ActionKeep, res.Decision)
	assert.Equal(t, "Code/Project", res.Category)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, 10, res.InputTokens)
	assert.Equal(t, 5, res.OutputTokens)
}

func TestClassifyFolder_OllamaEndpointDisaggregate(t *testing.T) {
	srv := newOllamaServer(t, `{"decision":"disaggregate","category":"Photos","confidence":0.75}`)
	defer srv.Close()

	p := newPool(t, srv.URL, "llama-test", 2)
	res, err := p.ClassifyFolder(context.Background(), FolderRequest{FolderName: "dcim"})
	require.NoError(t, err)
	assert.Equal(t, model.ActionDisaggregate, res.Decision)
	assert.Equal(t, "Photos", res.Category)
}

func TestClassifyFile_RequiresCategory(t *testing.T) {
	srv := newOpenAIServer(t, `{"decision":"disaggregate","confidence":0.5}`)
	defer srv.Close()

	p := newPool(t, srv.URL, "gpt-test", 0)
	_, err := p.ClassifyFile(context.Background(), FileRequest{FileName: "a.txt"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAIUnavailable)
}

func TestClassifyFolder_MalformedJSONRetriedThenUnavailable(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		resp := openAIChatResponse{}
		resp.Choices = []struct {
			Message openAIChatMessage `json:"message"`
		}{{Message: openAIChatMessage{Role: "assistant", Content: "not json"}}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newPool(t, srv.URL, "gpt-test", 1)
	_, err := p.ClassifyFolder(context.Background(), FolderRequest{FolderName: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAIUnavailable)
	assert.Equal(t, int32(2), calls.Load()) // initial attempt + one retry
}

func TestClassifyFolder_TransportFailureExhaustsRetriesThenUnavailable(t *testing.T) {
	p := newPool(t, "http://127.0.0.1:0", "gpt-test", 1)
	_, err := p.ClassifyFolder(context.Background(), FolderRequest{FolderName: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAIUnavailable)
}

func TestPool_RoundRobinsAcrossEndpoints(t *testing.T) {
	srvA := newOpenAIServer(t, `{"decision":"keep","category":"A"}`)
	defer srvA.Close()
	srvB := newOpenAIServer(t, `{"decision":"keep","category":"B"}`)
	defer srvB.Close()

	p, err := NewPool([]config.Endpoint{
		{URL: srvA.URL, Model: "m", Workers: 1},
		{URL: srvB.URL, Model: "m", Workers: 1},
	}, 2*time.Second, 0)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		res, err := p.ClassifyFolder(context.Background(), FolderRequest{FolderName: "f"})
		require.NoError(t, err)
		seen[res.Category] = true
	}
	assert.Len(t, seen, 2)
}

func TestNewPool_NoEndpointsErrors(t *testing.T) {
	_, err := NewPool(nil, time.Second, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConfig)
}

func TestNewFromConfig_NoAIReturnsNilClient(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.NoAI = true
	client, err := NewFromConfig(cfg)
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestUnavailable_AlwaysErrors(t *testing.T) {
	u := Unavailable{}
	_, err := u.ClassifyFolder(context.Background(), FolderRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAIUnavailable)

	_, err = u.ClassifyFile(context.Background(), FileRequest{})
	require.Error(t, err)
}
