package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptcut/config"
)

func fakeAPI(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		handler(w, body)
	}))
	t.Cleanup(srv.Close)

	return NewClient(&config.Config{
		ModelName:    "test-model",
		ModelAPIKey:  "test-key",
		ModelBaseURL: srv.URL + "/v1",
		ModelTimeout: 5 * time.Second,
	})
}

func completion(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"choices": []any{
			map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			},
		},
	}
}

func TestFindSegments(t *testing.T) {
	var got map[string]any
	c := fakeAPI(t, func(w http.ResponseWriter, body map[string]any) {
		got = body
		json.NewEncoder(w).Encode(completion("```json\n[{\"start\": 4.5, \"end\": 8}]\n```"))
	})

	text, err := c.FindSegments(context.Background(), "http://files.test/files/uploads/a.mp4?signature=x", "the red car")
	require.NoError(t, err)
	assert.Contains(t, text, `"start": 4.5`)

	assert.Equal(t, "test-model", got["model"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 1)
	parts := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	video := parts[0].(map[string]any)
	assert.Equal(t, "image_url", video["type"])
	assert.Equal(t, "http://files.test/files/uploads/a.mp4?signature=x", video["image_url"].(map[string]any)["url"])
	assert.Contains(t, parts[1].(map[string]any)["text"], `"the red car"`)
}

func TestFindSegmentsEmpty(t *testing.T) {
	c := fakeAPI(t, func(w http.ResponseWriter, body map[string]any) {
		resp := completion("")
		resp["choices"] = []any{}
		json.NewEncoder(w).Encode(resp)
	})

	_, err := c.FindSegments(context.Background(), "http://v", "p")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestFindSegmentsAPIError(t *testing.T) {
	c := fakeAPI(t, func(w http.ResponseWriter, body map[string]any) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "backend unavailable", "type": "server_error"},
		})
	})

	_, err := c.FindSegments(context.Background(), "http://v", "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model request failed")
}

func TestInstructions(t *testing.T) {
	s := Instructions("  people laughing ")
	assert.Contains(t, s, `"people laughing"`)
	assert.Contains(t, s, "[]")
}
