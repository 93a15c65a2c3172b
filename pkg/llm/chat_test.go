package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/pkg/llm"
)

type fakeModel struct {
	reply    string
	chunks   []string
	err      error
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.options)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.options.StreamingFunc != nil {
		for _, c := range f.chunks {
			if err := f.options.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func text(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	require.Len(t, m.Parts, 1)
	part, ok := m.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return part.Text
}

func newEngine(t *testing.T, model llms.Model) *llm.ChatEngine {
	t.Helper()
	engine, err := llm.NewChatEngine(model, llm.ChatConfig{Temperature: 0.2, MaxTokens: 2048}, nil)
	require.NoError(t, err)
	return engine
}

func TestGenerate_MessageLayout(t *testing.T) {
	model := &fakeModel{reply: "De acuerdo al sistema de becas UTPL, la beca cubre el 100%."}
	engine := newEngine(t, model)

	history := []models.ConversationTurn{
		{Role: models.RoleUser, Content: "Hola"},
		{Role: models.RoleAssistant, Content: llm.Greeting},
	}
	passages := []models.Passage{
		{Seq: 0, Text: "Beca de Excelencia: 100%"},
		{Seq: 1, Text: "Requisito: promedio 9"},
	}

	gen := engine.Generate(context.Background(), "¿Cuánto cubre?", history, passages, nil)

	assert.False(t, gen.Degraded)
	assert.Equal(t, model.reply, gen.Text)
	assert.Equal(t, passages, gen.Context)

	require.Len(t, model.messages, 4)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	system := text(t, model.messages[0])
	assert.True(t, strings.HasPrefix(system, "Eres BecaBot UTPL"))
	assert.True(t, strings.HasSuffix(system, "Información del sistema:\nBeca de Excelencia: 100%\n\nRequisito: promedio 9"))
	assert.NotContains(t, system, "{context}")

	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, "Hola", text(t, model.messages[1]))
	assert.Equal(t, schema.ChatMessageTypeAI, model.messages[2].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[3].Role)
	assert.Equal(t, "¿Cuánto cubre?", text(t, model.messages[3]))

	assert.Equal(t, 0.2, model.options.Temperature)
	assert.Equal(t, 2048, model.options.MaxTokens)
	assert.Nil(t, model.options.StreamingFunc)
}

func TestGenerate_Streaming(t *testing.T) {
	model := &fakeModel{reply: "Hola mundo", chunks: []string{"Hola", " mundo"}}
	engine := newEngine(t, model)

	var got []string
	gen := engine.Generate(context.Background(), "hola", nil, nil, func(chunk string) {
		got = append(got, chunk)
	})

	assert.Equal(t, []string{"Hola", " mundo"}, got)
	assert.Equal(t, "Hola mundo", gen.Text)
	assert.Empty(t, gen.Context)
}

func TestGenerate_Degraded(t *testing.T) {
	passages := []models.Passage{{Text: "algo"}}

	t.Run("no model", func(t *testing.T) {
		gen := newEngine(t, nil).Generate(context.Background(), "hola", nil, passages, nil)
		assert.True(t, gen.Degraded)
		assert.Equal(t, "No se pudo conectar con el modelo de IA.", gen.Text)
		assert.Empty(t, gen.Context)
	})

	t.Run("call error", func(t *testing.T) {
		model := &fakeModel{err: errors.New("quota exceeded")}
		gen := newEngine(t, model).Generate(context.Background(), "hola", nil, passages, nil)
		assert.True(t, gen.Degraded)
		assert.Equal(t, "Ocurrió un error al procesar tu consulta: quota exceeded", gen.Text)
		assert.Empty(t, gen.Context)
	})
}

func TestSystemTemplate(t *testing.T) {
	assert.Equal(t, 1, strings.Count(llm.SystemTemplate, "{context}"))
	assert.Contains(t, llm.SystemTemplate, "- SALUDO INICIAL: Si es el primer mensaje del usuario, responde: '¡Hola! Soy BecaBot UTPL, tu asistente de becas. ¿En qué puedo ayudarte?'\n")
	assert.Contains(t, llm.SystemTemplate, "- Si NO encuentras información: 'No cuento con esa información en el sistema.'\n")
	assert.Contains(t, llm.SystemTemplate, "Eres amable, profesional y siempre útil. \n\nTu base de conocimientos")
}

func TestNewChatEngine_Validation(t *testing.T) {
	_, err := llm.NewChatEngine(nil, llm.ChatConfig{Temperature: 3}, nil)
	assert.Error(t, err)

	_, err = llm.NewChatEngine(nil, llm.ChatConfig{MaxTokens: -1}, nil)
	assert.Error(t, err)

	engine, err := llm.NewChatEngine(nil, llm.ChatConfig{}, nil)
	require.NoError(t, err)
	assert.False(t, engine.Available())
}

func TestNewModel_UnknownProvider(t *testing.T) {
	_, err := llm.NewModel(context.Background(), llm.ChatConfig{Provider: "openai"})
	assert.Error(t, err)

	_, err = llm.NewModel(context.Background(), llm.ChatConfig{Provider: llm.ProviderGoogleAI})
	assert.Error(t, err)
}
