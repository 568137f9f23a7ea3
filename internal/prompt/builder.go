// Package prompt builds the system message seeding a new tutoring stream.
package prompt

import (
	"strings"

	"github.com/quizmentor-ai/quizmentor/pkg/types"
)

// DefaultTemplate is used when no template file is configured. Placeholders
// are substituted verbatim; unknown placeholders are left untouched.
const DefaultTemplate = `You are a patient tutor helping a student understand a quiz question.

Question:
{{question}}

The student selected: {{selected_answer}}

Reference material:
{{reference}}

Explain why the selected answer is correct or incorrect. Be encouraging,
concise and factual. Ground every claim in the reference material.`

// TemplateData carries the durable domain data substituted into the template.
type TemplateData struct {
	Question       string
	SelectedAnswer string
	Reference      string
}

// Build renders the system prompt by substituting named placeholders in the
// template. It is pure and idempotent: identical inputs always yield
// byte-identical output, because the context is rebuilt from durable data for
// every fresh stream entry.
func Build(template string, data TemplateData) string {
	if template == "" {
		template = DefaultTemplate
	}
	return strings.NewReplacer(
		"{{question}}", data.Question,
		"{{selected_answer}}", data.SelectedAnswer,
		"{{reference}}", data.Reference,
	).Replace(template)
}

// SystemMessage renders the template into a system-role chat message.
func SystemMessage(template string, data TemplateData) types.ChatMessage {
	return types.ChatMessage{Role: types.RoleSystem, Content: Build(template, data)}
}
