package kb

import "docent/internal/domain"

// Knowledge base prompt templates. The $search_results$ placeholder is
// substituted by the backend with the retrieved passages; the surrounding
// instruction pins the response language.
const (
	promptTemplateEN = `You are a friendly guide helping museum visitors. Use only the search results below to answer the visitor's question.

$search_results$

Answer in English, in a warm and concise tone. If the search results do not contain the answer, say so and suggest asking a member of the museum staff.`

	promptTemplateES = `Eres un guía amable que ayuda a los visitantes del museo. Usa únicamente los resultados de búsqueda a continuación para responder la pregunta del visitante.

$search_results$

Responde en español, con un tono cálido y conciso. Si los resultados de búsqueda no contienen la respuesta, dilo y sugiere preguntar al personal del museo.`
)

// PromptTemplate returns the generation template for the requested response
// language. Unknown values fall back to English.
func PromptTemplate(language string) string {
	if language == domain.LanguageSpanish {
		return promptTemplateES
	}
	return promptTemplateEN
}
