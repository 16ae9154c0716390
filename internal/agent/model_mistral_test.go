package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestMistralChatModelGenerate(t *testing.T) {
	var capturedBody map[string]interface{}
	var capturedAuth string

	server := newChatTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&capturedBody))
		fmt.Fprint(w, `{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "ministral-8b-latest",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"ok\": true}"}, "finish_reason": "stop"}]
		}`)
	})

	m, err := NewMistralChatModel("test-key", "", server.URL, WithJSONMode(true))
	require.NoError(t, err)

	resp, err := m.Generate(context.Background(), []*schema.Message{
		{Role: schema.User, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.Assistant, resp.Role)
	assert.Equal(t, `{"ok": true}`, resp.Content)

	assert.Equal(t, "Bearer test-key", capturedAuth)
	// 结构化任务的固定请求参数：温度0 + JSON模式
	assert.Equal(t, "ministral-8b-latest", capturedBody["model"])
	assert.Equal(t, 0.0, capturedBody["temperature"])
	rf, ok := capturedBody["response_format"].(map[string]interface{})
	require.True(t, ok, "必须携带response_format")
	assert.Equal(t, "json_object", rf["type"])
}

func TestMistralChatModelJSONModeDisabled(t *testing.T) {
	var capturedBody map[string]interface{}
	server := newChatTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&capturedBody))
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "plain"}}]}`)
	})

	m, err := NewMistralChatModel("test-key", "", server.URL, WithJSONMode(false))
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{{Role: schema.User, Content: "hi"}})
	require.NoError(t, err)
	_, hasRF := capturedBody["response_format"]
	assert.False(t, hasRF)
}

func TestMistralChatModelRateLimitReturnsTypedError(t *testing.T) {
	server := newChatTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"message": "rate limit exceeded"}`)
	})

	m, err := NewMistralChatModel("test-key", "", server.URL)
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{{Role: schema.User, Content: "hi"}})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.True(t, IsRateLimitError(err))
}

func TestMistralChatModelServerErrorNotRateLimit(t *testing.T) {
	server := newChatTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	m, err := NewMistralChatModel("test-key", "", server.URL)
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{{Role: schema.User, Content: "hi"}})
	require.Error(t, err)
	assert.False(t, IsRateLimitError(err))
}

func TestMistralChatModelEmptyChoices(t *testing.T) {
	server := newChatTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	})

	m, err := NewMistralChatModel("test-key", "", server.URL)
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{{Role: schema.User, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "空选项")
}

func TestNewMistralChatModelRequiresAPIKey(t *testing.T) {
	_, err := NewMistralChatModel("  ", "model", "")
	require.Error(t, err)
}

func TestIsRateLimitErrorStringFallback(t *testing.T) {
	assert.True(t, IsRateLimitError(errors.New("upstream said: 429 too many requests")))
	assert.False(t, IsRateLimitError(errors.New("connection refused")))
	assert.False(t, IsRateLimitError(nil))
}
