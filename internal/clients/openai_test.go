package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/resume-intake-bot/internal/services"
)

func TestOpenAI_Complete(t *testing.T) {
	var req map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1", "object": "chat.completion", "created": 0, "model": "gpt-3.5-turbo",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "  # Alice Tan\n"}}]
		}`))
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test", srv.URL+"/v1/", "gpt-3.5-turbo", srv.Client())
	out, err := o.Complete(context.Background(), "write a resume")
	require.NoError(t, err)
	assert.Equal(t, "# Alice Tan", out)

	assert.Equal(t, "gpt-3.5-turbo", req["model"])
	assert.EqualValues(t, 0, req["temperature"])
	assert.EqualValues(t, 2200, req["max_tokens"])
	msgs := req["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestOpenAI_CompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":0,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI("k", srv.URL+"/v1/", "m", srv.Client()).Complete(context.Background(), "p")
	assert.True(t, errors.Is(err, services.ErrEmptyCompletion))
}

func TestOpenAI_TranslateAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/translations", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, translationPrompt, r.FormValue("prompt"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "42.mp3", hdr.Filename)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" I drove forklifts for ten years. "}`))
	}))
	defer srv.Close()

	o := NewOpenAI("k", srv.URL+"/v1/", "m", srv.Client())
	text, err := o.TranslateAudio(context.Background(), "42.mp3", []byte("ID3"))
	require.NoError(t, err)
	assert.Equal(t, "I drove forklifts for ten years.", text)
}

func TestOpenAI_ServerErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI("k", srv.URL+"/v1/", "m", srv.Client()).Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
