package prompt

import (
	"github.com/quizmentor-ai/quizmentor/pkg/types"
)

// ContextBuilder renders the system message for a fresh stream from durable
// subject data and the active template. Rendering is deterministic: the same
// subject, answer and template always produce the same message, so a
// reconstructed context matches what an earlier stream would have seen.
type ContextBuilder struct {
	store   *Store
	catalog *Catalog
}

// NewContextBuilder wires the template store and subject catalog together.
func NewContextBuilder(store *Store, catalog *Catalog) *ContextBuilder {
	return &ContextBuilder{store: store, catalog: catalog}
}

// SystemMessage renders the tutoring context for a subject. Unknown subjects
// degrade to using the raw id as the question text so the stream still
// carries enough context to be answerable.
func (b *ContextBuilder) SystemMessage(subjectID, selectedAnswer string) types.ChatMessage {
	data := TemplateData{
		Question:       subjectID,
		SelectedAnswer: selectedAnswer,
	}
	if b.catalog != nil {
		if subject, ok := b.catalog.Lookup(subjectID); ok {
			data.Question = subject.Question
			data.Reference = subject.Reference
		}
	}

	template := ""
	if b.store != nil {
		template = b.store.Template()
	}
	return SystemMessage(template, data)
}
