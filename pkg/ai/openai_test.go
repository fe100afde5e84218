package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, status int, content string, inspect func(openai.ChatCompletionRequest)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if inspect != nil {
			inspect(req)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
			return
		}
		resp := openai.ChatCompletionResponse{
			ID:     "chatcmpl-test",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestEnhancer(t *testing.T, baseURL, model string) *OpenAIEnhancer {
	t.Helper()
	enhancer, err := NewOpenAIEnhancer(OpenAIConfig{APIKey: "test-key", Model: model, BaseURL: baseURL + "/v1", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return enhancer
}

var sampleInput = EnhancementInput{
	StudentID:         "s1",
	AssignmentType:    "code",
	Language:          "python",
	ProblemStatement:  "Write a function to calculate factorial",
	SubmissionExcerpt: "def factorial(n): return 1 if n<=1 else n*factorial(n-1)",
	DraftFeedback:     []string{"✓ Code is organized into 1 function(s)"},
}

func TestOpenAIEnhancerParsesReply(t *testing.T) {
	reply := `{"summary":"<b>Nice</b> recursive solution.","corrections":["Handle negative n", "  ", "<script>x</script>"],"strengths":["Concise"]}`
	var seen openai.ChatCompletionRequest
	server := completionServer(t, http.StatusOK, reply, func(req openai.ChatCompletionRequest) { seen = req })

	enhancement, err := newTestEnhancer(t, server.URL, "gpt-4o-mini").Enhance(context.Background(), sampleInput)
	require.NoError(t, err)
	require.Equal(t, "Nice recursive solution.", enhancement.Summary)
	require.Equal(t, []string{"Handle negative n"}, enhancement.Corrections)
	require.Equal(t, []string{"Concise"}, enhancement.Strengths)

	require.Equal(t, "gpt-4o-mini", seen.Model)
	require.Equal(t, 700, seen.MaxTokens)
	require.Zero(t, seen.MaxCompletionTokens)
	require.NotNil(t, seen.ResponseFormat)
	require.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, seen.ResponseFormat.Type)
	require.Contains(t, seen.Messages[1].Content, "factorial")
}

func TestOpenAIEnhancerReasoningModelUsesCompletionTokens(t *testing.T) {
	reply := `{"summary":"ok","corrections":[],"strengths":[]}`
	var seen openai.ChatCompletionRequest
	server := completionServer(t, http.StatusOK, reply, func(req openai.ChatCompletionRequest) { seen = req })

	_, err := newTestEnhancer(t, server.URL, "o3-mini").Enhance(context.Background(), sampleInput)
	require.NoError(t, err)
	require.Equal(t, 700, seen.MaxCompletionTokens)
	require.Zero(t, seen.MaxTokens)
}

func TestOpenAIEnhancerFailuresAreUnavailable(t *testing.T) {
	cases := map[string]struct {
		status int
		reply  string
	}{
		"server error":  {http.StatusInternalServerError, ""},
		"not json":      {http.StatusOK, "Great job!"},
		"missing field": {http.StatusOK, `{"summary":"ok","strengths":[]}`},
		"score leak":    {http.StatusOK, `{"summary":"ok","corrections":[],"strengths":[],"score":95}`},
		"empty summary": {http.StatusOK, `{"summary":"  ","corrections":[],"strengths":[]}`},
		"wrong type":    {http.StatusOK, `{"summary":"ok","corrections":"fix it","strengths":[]}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			server := completionServer(t, tc.status, tc.reply, nil)
			_, err := newTestEnhancer(t, server.URL, "gpt-4o-mini").Enhance(context.Background(), sampleInput)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestParseReplyCapsItems(t *testing.T) {
	items := make([]string, 8)
	for i := range items {
		items[i] = "tip"
	}
	payload, err := json.Marshal(map[string]interface{}{"summary": "Tom &amp; Jerry", "corrections": items, "strengths": []string{}})
	require.NoError(t, err)

	enhancement, err := ParseReply(string(payload))
	require.NoError(t, err)
	require.Equal(t, "Tom & Jerry", enhancement.Summary)
	require.Len(t, enhancement.Corrections, maxReplyItems)
	require.Empty(t, enhancement.Strengths)
}

func TestExcerpt(t *testing.T) {
	require.Equal(t, "short", Excerpt("short"))
	long := strings.Repeat("é", ExcerptLimit+10)
	require.Len(t, []rune(Excerpt(long)), ExcerptLimit)
}

func TestDisabledEnhancer(t *testing.T) {
	_, err := Disabled{}.Enhance(context.Background(), sampleInput)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestNewEnhancerSelection(t *testing.T) {
	logger := zerolog.Nop()

	_, ok := NewEnhancer(Config{Enabled: false, APIKey: "k"}, nil, logger).(Disabled)
	require.True(t, ok)

	_, ok = NewEnhancer(Config{Enabled: true}, nil, logger).(Disabled)
	require.True(t, ok, "missing key disables enhancement")

	_, ok = NewEnhancer(Config{Enabled: true, Provider: "anthropic", APIKey: "k"}, nil, logger).(Disabled)
	require.True(t, ok)

	_, ok = NewEnhancer(Config{Enabled: true, Provider: "openai", APIKey: "k"}, nil, logger).(*OpenAIEnhancer)
	require.True(t, ok)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	_, ok = NewEnhancer(Config{Enabled: true, APIKey: "k", CacheTTL: time.Hour}, client, logger).(*CachedEnhancer)
	require.True(t, ok)
}

type countingEnhancer struct {
	calls atomic.Int32
	err   error
}

func (c *countingEnhancer) Enhance(context.Context, EnhancementInput) (Enhancement, error) {
	c.calls.Add(1)
	if c.err != nil {
		return Enhancement{}, c.err
	}
	return Enhancement{Summary: "cached summary", Corrections: []string{"a"}, Strengths: []string{"b"}}, nil
}

func TestCachedEnhancer(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	next := &countingEnhancer{}
	cached := NewCachedEnhancer(next, client, "gpt-4o-mini", time.Hour, zerolog.Nop())

	first, err := cached.Enhance(context.Background(), sampleInput)
	require.NoError(t, err)
	second, err := cached.Enhance(context.Background(), sampleInput)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), next.calls.Load())

	other := sampleInput
	other.SubmissionExcerpt = "def factorial(n): pass"
	_, err = cached.Enhance(context.Background(), other)
	require.NoError(t, err)
	require.Equal(t, int32(2), next.calls.Load())
}

func TestCachedEnhancerDoesNotCacheFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	next := &countingEnhancer{err: fmt.Errorf("%w: boom", ErrUnavailable)}
	cached := NewCachedEnhancer(next, client, "m", time.Hour, zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := cached.Enhance(context.Background(), sampleInput)
		require.True(t, errors.Is(err, ErrUnavailable))
	}
	require.Equal(t, int32(2), next.calls.Load())
	require.Empty(t, mr.Keys())
}

func TestParseReplyRejectsTrailingTokens(t *testing.T) {
	valid := `{"summary":"Good work","corrections":[],"strengths":["clear names"]}`
	_, err := ParseReply(valid + "\n")
	require.NoError(t, err)

	for _, reply := range []string{valid + "}", valid + "]", valid + ` {"summary":"again"}`, valid + " extra"} {
		_, err := ParseReply(reply)
		require.ErrorIs(t, err, ErrUnavailable, reply)
	}
}
