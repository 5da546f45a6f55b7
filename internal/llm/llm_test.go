package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/config"
)

// ============================================================================
// OllamaGenerator
// ============================================================================

func newGenerateServer(t *testing.T, reply string, got *generateRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if got != nil {
			_ = json.NewDecoder(r.Body).Decode(got)
		}
		_ = json.NewEncoder(w).Encode(generateResponse{Response: reply, Done: true})
	}))
}

func TestOllamaGenerator_Generate_SendsTemperature(t *testing.T) {
	// Given: an Ollama server recording the request
	var got generateRequest
	srv := newGenerateServer(t, "  a hypothetical passage  ", &got)
	defer srv.Close()
	g := NewOllamaGenerator(srv.URL, "qwen3:0.6b", time.Second)

	// When: I generate at temperature 0.7
	text, err := g.Generate(context.Background(), "write a passage", 0.7)

	// Then: the response is trimmed and the request is non-streaming
	require.NoError(t, err)
	assert.Equal(t, "a hypothetical passage", text)
	assert.Equal(t, "qwen3:0.6b", got.Model)
	assert.False(t, got.Stream)
	assert.InDelta(t, 0.7, got.Options.Temperature, 1e-9)
}

func TestOllamaGenerator_Generate_StripsThinkingBlock(t *testing.T) {
	srv := newGenerateServer(t, "<think>reasoning here</think>\n1. first\n2. second", nil)
	defer srv.Close()

	text, err := NewOllamaGenerator(srv.URL, "", time.Second).Generate(context.Background(), "p", 0)

	require.NoError(t, err)
	assert.Equal(t, "1. first\n2. second", text)
}

func TestOllamaGenerator_Generate_EmptyResponse(t *testing.T) {
	srv := newGenerateServer(t, "   ", nil)
	defer srv.Close()

	_, err := NewOllamaGenerator(srv.URL, "", time.Second).Generate(context.Background(), "p", 0)

	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOllamaGenerator_Generate_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaGenerator(srv.URL, "", time.Second).Generate(context.Background(), "p", 0)

	assert.ErrorContains(t, err, "unexpected status 404")
}

func TestOllamaGenerator_Generate_Timeout(t *testing.T) {
	// Given: a server slower than the generator timeout
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	g := NewOllamaGenerator(srv.URL, "", 50*time.Millisecond)

	// When: I generate
	_, err := g.Generate(context.Background(), "p", 0)

	// Then: the deadline error surfaces
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ============================================================================
// ChatGenerator
// ============================================================================

// fakeChatModel implements model.BaseChatModel for testing
type fakeChatModel struct {
	reply       string
	err         error
	temperature *float32
	messages    []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.messages = input
	f.temperature = model.GetCommonOptions(&model.Options{}, opts...).Temperature
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestChatGenerator_Generate(t *testing.T) {
	// Given: a chat model
	fake := &fakeChatModel{reply: "\nsub-question one\n"}
	g := NewChatGenerator(fake, "gpt-4o-mini", time.Second)

	// When: I generate
	text, err := g.Generate(context.Background(), "decompose this", 0.5)

	// Then: the prompt is one user message and temperature is forwarded
	require.NoError(t, err)
	assert.Equal(t, "sub-question one", text)
	require.Len(t, fake.messages, 1)
	assert.Equal(t, schema.User, fake.messages[0].Role)
	assert.Equal(t, "decompose this", fake.messages[0].Content)
	require.NotNil(t, fake.temperature)
	assert.InDelta(t, 0.5, *fake.temperature, 1e-6)
	assert.Equal(t, "gpt-4o-mini", g.ModelName())
}

func TestChatGenerator_Generate_Errors(t *testing.T) {
	_, err := NewChatGenerator(&fakeChatModel{err: errors.New("quota")}, "m", time.Second).
		Generate(context.Background(), "p", 0)
	assert.EqualError(t, err, "quota")

	_, err = NewChatGenerator(&fakeChatModel{reply: ""}, "m", time.Second).
		Generate(context.Background(), "p", 0)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

// ============================================================================
// Factory
// ============================================================================

func TestNewGenerator(t *testing.T) {
	ctx := context.Background()

	t.Run("none returns nil", func(t *testing.T) {
		g, err := NewGenerator(ctx, config.GenerationConfig{Provider: "none"}, time.Second)
		require.NoError(t, err)
		assert.Nil(t, g)
	})

	t.Run("ollama uses generate endpoint", func(t *testing.T) {
		g, err := NewGenerator(ctx, config.GenerationConfig{Provider: "ollama"}, time.Second)
		require.NoError(t, err)
		assert.IsType(t, &OllamaGenerator{}, g)
		assert.Equal(t, DefaultOllamaModel, g.ModelName())
	})

	t.Run("openai requires key", func(t *testing.T) {
		_, err := NewGenerator(ctx, config.GenerationConfig{Provider: "openai"}, time.Second)
		assert.Error(t, err)
	})

	t.Run("anthropic requires key", func(t *testing.T) {
		_, err := NewGenerator(ctx, config.GenerationConfig{Provider: "anthropic"}, time.Second)
		assert.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewGenerator(ctx, config.GenerationConfig{Provider: "gemini"}, time.Second)
		assert.Error(t, err)
	})
}
