package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/roach88/grimoire/internal/doc"
)

type scripted struct {
	mu      sync.Mutex
	replies []string
	prompts []string
	err     error
}

func (s *scripted) Provider() string { return "scripted" }

func (s *scripted) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "[]", nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func TestStripFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", ` [{"name":"a"}] `, `[{"name":"a"}]`},
		{"json fence", "```json\n[{\"name\":\"a\"}]\n```", `[{"name":"a"}]`},
		{"plain fence", "```\n{\"name\":\"a\"}\n```", `{"name":"a"}`},
		{"chatter", "Here you go:\n```json\n[]\n```\nEnjoy!", `[]`},
		{"one line", "```[1]```", `[1]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFence(tt.in))
		})
	}
}

func TestParseItems(t *testing.T) {
	items, err := ParseItems("```json\n[{\"name\": \"Shield\", \"level\": 1}, 4, {\"name\": \"Light\"}]\n```")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, doc.Int(1), items[0]["level"])

	wrapped, err := ParseItems(`{"items": [{"name": "Rope"}]}`)
	require.NoError(t, err)
	require.Len(t, wrapped, 1)

	single, err := ParseItems(`{"name": "Rope"}`)
	require.NoError(t, err)
	require.Len(t, single, 1)

	_, err = ParseItems(`"nope"`)
	assert.Error(t, err)
}

func TestParseItem(t *testing.T) {
	it, err := ParseItem("```json\nnull\n```")
	require.NoError(t, err)
	assert.Nil(t, it)

	it, err = ParseItem(`{"name": "Rope", "cost": 1.5}`)
	require.NoError(t, err)
	name, ok := ItemName(it)
	assert.True(t, ok)
	assert.Equal(t, "Rope", name)

	it, err = ParseItem(`[]`)
	require.NoError(t, err)
	assert.Nil(t, it)

	_, err = ParseItem(`42`)
	assert.Error(t, err)
}

func TestItemName(t *testing.T) {
	_, ok := ItemName(doc.NewObject(doc.O("name", doc.String("   "))))
	assert.False(t, ok)
	_, ok = ItemName(doc.NewObject(doc.O("name", doc.Int(3))))
	assert.False(t, ok)
}

func TestLLMGenerateBatch(t *testing.T) {
	c := &scripted{replies: []string{"```json\n[{\"name\":\"A\"},{\"name\":\"B\"},{\"name\":\"C\"}]\n```"}}
	l := NewLLM(c)

	items, err := l.GenerateBatch(context.Background(), "spells", []string{"Fireball", `Bigby's "Hand"`}, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	require.Len(t, c.prompts, 1)
	assert.Contains(t, c.prompts[0], "up to 2 distinct tabletop RPG spells")
	assert.Contains(t, c.prompts[0], `["Fireball","Bigby's \"Hand\""]`)

	none, err := l.GenerateBatch(context.Background(), "spells", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Len(t, c.prompts, 1)
}

func TestLLMInvalidResponse(t *testing.T) {
	l := NewLLM(&scripted{replies: []string{"I cannot help with that."}})
	_, err := l.GenerateBatch(context.Background(), "spells", nil, 3)

	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeInvalidResponse, ge.Code)
	assert.False(t, IsTransient(err))
}

func TestLLMGenerateOne(t *testing.T) {
	c := &scripted{replies: []string{`{"name": "Longsword", "damage": "1d8"}`, "null"}}
	l := NewLLM(c)

	it, err := l.GenerateOne(context.Background(), "equipment", "Longsword")
	require.NoError(t, err)
	assert.Equal(t, doc.String("1d8"), it["damage"])
	assert.Contains(t, c.prompts[0], `named "Longsword"`)

	it, err = l.GenerateOne(context.Background(), "equipment", "Vorpal Spoon")
	require.NoError(t, err)
	assert.Nil(t, it)
}

func TestLLMRateLimitHonorsContext(t *testing.T) {
	l := NewLLM(&scripted{}, WithRateLimit(1, 1))
	_, err := l.GenerateBatch(context.Background(), "rules", nil, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.GenerateBatch(ctx, "rules", nil, 1)
	require.Error(t, err)
	assert.True(t, IsGeneratorError(err))
}

func TestClassifyStatus(t *testing.T) {
	for status, want := range map[int]struct {
		code      string
		transient bool
	}{
		429: {CodeRateLimited, true},
		529: {CodeOverloaded, true},
		503: {CodeOverloaded, true},
		504: {CodeTimeout, true},
		500: {CodeUnavailable, true},
		400: {CodeRejected, false},
		401: {CodeRejected, false},
	} {
		e := classifyStatus("p", status, errors.New("x"))
		assert.Equal(t, want.code, e.Code, status)
		assert.Equal(t, want.transient, e.Transient, status)
	}

	assert.True(t, classifyTransport("p", context.DeadlineExceeded).Transient)
	assert.False(t, classifyTransport("p", context.Canceled).Transient)
}

func TestClassifyGemini(t *testing.T) {
	err := classifyGemini(fmt.Errorf("call: %w", genai.APIError{Code: 429, Message: "quota"}))
	assert.True(t, IsTransient(err))

	err = classifyGemini(genai.APIError{Code: 400, Message: "bad"})
	assert.False(t, IsTransient(err))
	assert.True(t, IsGeneratorError(err))
}

func chatServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIComplete(t *testing.T) {
	srv := chatServer(t, http.StatusOK, `{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
		"choices": [{"index": 0, "finish_reason": "stop",
			"message": {"role": "assistant", "content": "`+"```json\\n[{\\\"name\\\": \\\"Rope\\\"}]\\n```"+`"}}]
	}`)
	o, err := NewOpenAI("test-key", "", srv.URL+"/v1", 0.2)
	require.NoError(t, err)

	items, err := NewLLM(o).GenerateBatch(context.Background(), "equipment", nil, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	name, _ := ItemName(items[0])
	assert.Equal(t, "Rope", name)
}

func TestOpenAIRateLimitedIsTransient(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, `{"error": {"message": "slow down", "type": "rate_limit_exceeded"}}`)
	o, err := NewOpenAI("test-key", "gpt-4o-mini", srv.URL+"/v1", 0)
	require.NoError(t, err)

	_, err = o.Complete(context.Background(), "hi")
	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, 429, ge.Status)
	assert.True(t, ge.Transient)
}

func TestOpenAIBadRequestIsPermanent(t *testing.T) {
	srv := chatServer(t, http.StatusBadRequest, `{"error": {"message": "bad model", "type": "invalid_request_error"}}`)
	o, err := NewOpenAI("test-key", "nope", srv.URL+"/v1", 0)
	require.NoError(t, err)

	_, err = o.Complete(context.Background(), "hi")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "openai"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(context.Background(), Config{Provider: "gemini"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(context.Background(), Config{Provider: "oracle", APIKey: "k"}, zerolog.Nop())
	assert.Error(t, err)

	l, err := New(context.Background(), Config{Provider: "openai", APIKey: "k", RequestsPerMinute: 60}, zerolog.Nop())
	require.NoError(t, err)
	assert.NotNil(t, l.limiter)
}
