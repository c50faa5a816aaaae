package inference_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/socratic/pkg/inference"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/tokenizer"
	"google.golang.org/genai"
)

type mockGemini struct {
	reply string
	resp  *genai.GenerateContentResponse
	err   error

	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.contents = contents
	m.config = config
	if m.err != nil {
		return nil, m.err
	}
	if m.resp != nil {
		return m.resp, nil
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(m.reply, genai.RoleModel)},
		},
	}, nil
}

func (m *mockGemini) Embedding(ctx context.Context, text string, dimensionality int) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func loadRemote(t *testing.T, mock *mockGemini) (*inference.Engine, *tokenizer.Tokenizer) {
	t.Helper()
	tok := tokenizer.Default()
	engine, err := inference.Load(model.ModelConfig{ContextBudget: 512}, tok,
		inference.WithBackend(inference.NewRemote(mock, tok)))
	gt.NoError(t, err)
	return engine, tok
}

func TestRemoteGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("sends decoded prompt and mapped config", func(t *testing.T) {
		mock := &mockGemini{reply: "what do you think rings the bell?"}
		engine, tok := loadRemote(t, mock)

		cfg := model.GenerationConfig{
			MaxTokens:   32,
			Temperature: 0.5,
			TopP:        0.8,
			TopK:        40,
			Seed:        42,
			Stop:        []string{"student:"},
		}
		out, err := engine.Generate(ctx, tok.Wrap(tok.Encode("why does the bell ring")), cfg)
		gt.NoError(t, err)
		gt.Equal(t, tok.Decode(out), "what do you think rings the bell?")

		gt.A(t, mock.contents).Length(1)
		gt.A(t, mock.contents[0].Parts).Length(1)
		gt.Equal(t, mock.contents[0].Parts[0].Text, "why does the bell ring")

		gt.Equal(t, *mock.config.Temperature, float32(0.5))
		gt.Equal(t, *mock.config.TopP, float32(0.8))
		gt.Equal(t, *mock.config.TopK, float32(40))
		gt.Equal(t, *mock.config.Seed, int32(42))
		gt.Equal(t, mock.config.MaxOutputTokens, int32(32))
		gt.Equal(t, mock.config.StopSequences, []string{"student:"})
	})

	t.Run("unset sampling bounds are omitted", func(t *testing.T) {
		mock := &mockGemini{reply: "ok"}
		engine, tok := loadRemote(t, mock)

		_, err := engine.Generate(ctx, tok.Encode("hello"), model.GenerationConfig{MaxTokens: 8, Temperature: 0})
		gt.NoError(t, err)
		gt.True(t, mock.config.TopP == nil)
		gt.True(t, mock.config.TopK == nil)
	})

	t.Run("wide seeds are folded", func(t *testing.T) {
		testCases := []struct {
			name string
			seed int64
			want int32
		}{
			{name: "fits", seed: 42, want: 42},
			{name: "high bits", seed: 1<<33 | 5, want: 7},
			{name: "negative", seed: -1, want: 0},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				mock := &mockGemini{reply: "ok"}
				engine, tok := loadRemote(t, mock)

				_, err := engine.Generate(ctx, tok.Encode("hello"), model.GenerationConfig{MaxTokens: 8, Seed: tc.seed})
				gt.NoError(t, err)
				gt.Equal(t, *mock.config.Seed, tc.want)
			})
		}
	})

	t.Run("reply is truncated to max tokens", func(t *testing.T) {
		reply := "a campanile is a bell tower that stands beside the church"
		mock := &mockGemini{reply: reply}
		engine, tok := loadRemote(t, mock)

		out, err := engine.Generate(ctx, tok.Encode("campanile"), model.GenerationConfig{MaxTokens: 4})
		gt.NoError(t, err)
		gt.A(t, out).Length(4)
		gt.Equal(t, out, tok.Encode(reply)[:4])
	})

	t.Run("empty candidates", func(t *testing.T) {
		mock := &mockGemini{resp: &genai.GenerateContentResponse{}}
		engine, tok := loadRemote(t, mock)

		_, err := engine.Generate(ctx, tok.Encode("hello"), model.GenerationConfig{MaxTokens: 8})
		gt.True(t, errors.Is(err, model.ErrInferenceFailed))
	})

	t.Run("candidate without content", func(t *testing.T) {
		mock := &mockGemini{resp: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{}},
		}}
		engine, tok := loadRemote(t, mock)

		_, err := engine.Generate(ctx, tok.Encode("hello"), model.GenerationConfig{MaxTokens: 8})
		gt.True(t, errors.Is(err, model.ErrInferenceFailed))
	})

	t.Run("api error", func(t *testing.T) {
		mock := &mockGemini{err: errors.New("quota exceeded")}
		engine, tok := loadRemote(t, mock)

		_, err := engine.Generate(ctx, tok.Encode("hello"), model.GenerationConfig{MaxTokens: 8})
		gt.True(t, errors.Is(err, model.ErrInferenceFailed))
	})
}
