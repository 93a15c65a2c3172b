package llm

import (
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/xhad/becabot/internal/models"
)

const (
	Greeting          = "¡Hola! Soy BecaBot UTPL, tu asistente de becas. ¿En qué puedo ayudarte?"
	UnknownAnswer     = "No cuento con esa información en el sistema."
	ModelUnavailable  = "No se pudo conectar con el modelo de IA."
	processingFailure = "Ocurrió un error al procesar tu consulta: "

	contextPlaceholder = "{context}"
)

// FailureMessage is the user-visible reply when answering fails.
func FailureMessage(err error) string {
	return processingFailure + err.Error()
}

// SystemTemplate is the behavioral prompt. {context} is replaced with the
// retrieved passages.
const SystemTemplate = "Eres BecaBot UTPL, un asistente virtual especializado en becas de la Universidad Técnica Particular de Loja. " +
	"Eres amable, profesional y siempre útil. " +
	"\n\n" +
	"Tu base de conocimientos incluye información completa sobre:\n" +
	"- Todas las becas disponibles en la UTPL\n" +
	"- Requisitos, porcentajes y beneficios de cada beca\n" +
	"- Procesos de postulación y renovación\n" +
	"- Manuales y procedimientos institucionales\n" +
	"\n\n" +
	"REGLAS DE CONVERSACIÓN:\n" +
	"- MANTÉN CONTINUIDAD: Si ya saludaste al usuario, NO vuelvas a hacerlo.\n" +
	"- SALUDO INICIAL: Si es el primer mensaje del usuario, responde: '" + Greeting + "'\n" +
	"- Revisa el historial para mantener el contexto de la conversación.\n" +
	"- Sé natural y conversacional, como si fueras un asesor universitario real.\n" +
	"\n\n" +
	"REGLAS DE INFORMACIÓN:\n" +
	"- USA SOLO la información del sistema que tienes disponible.\n" +
	"- NO menciones 'documentos', 'archivos', 'PDFs' ni 'contextos proporcionados'.\n" +
	"- Responde como si toda la información estuviera en tu memoria interna.\n" +
	"- Cuando cites información, di: 'De acuerdo al sistema de becas UTPL...' o 'Según la información institucional...'\n" +
	"- Si NO encuentras información: '" + UnknownAnswer + "'\n" +
	"- NUNCA inventes datos. Si no sabes algo, admítelo claramente.\n" +
	"\n\n" +
	"ESTILO DE RESPUESTA:\n" +
	"- Sé claro, directo y profesional.\n" +
	"- Estructura bien la información (usa listas cuando sea apropiado).\n" +
	"- Enfócate en ser útil y resolver la necesidad del usuario.\n" +
	"- Si la pregunta es casual (gracias, adiós, etc.), responde naturalmente.\n\n" +
	"Información del sistema:\n" + contextPlaceholder

// StuffContext joins passage texts with a blank line between them.
func StuffContext(passages []models.Passage) string {
	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n\n")
}

// BuildMessages lays out the conversation: system prompt with context, the
// prior turns in order, then the new question.
func BuildMessages(template, question string, history []models.ConversationTurn, passages []models.Passage) []llms.MessageContent {
	system := strings.Replace(template, contextPlaceholder, StuffContext(passages), 1)

	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, system))
	for _, turn := range history {
		switch turn.Role {
		case models.RoleUser:
			messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, turn.Content))
		case models.RoleAssistant:
			messages = append(messages, llms.TextParts(schema.ChatMessageTypeAI, turn.Content))
		}
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, question))
	return messages
}
