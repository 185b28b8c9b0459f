package ollama

import (
	"context"
	"fmt"
	"strings"
)

const systemPrompt = `You answer questions about a PDF document using only the excerpts provided.
If the excerpts do not contain the answer, say that the document does not cover it.
Answer concisely.`

// Generator answers questions from document excerpts with a local model.
type Generator struct {
	client *Client
	model  string
}

func NewGenerator(c *Client, model string) *Generator {
	return &Generator{client: c, model: model}
}

// Generate asks the model to answer question from passages.
func (g *Generator) Generate(ctx context.Context, question string, passages []string) (string, error) {
	var b strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&b, "Excerpt %d:\n%s\n\n", i+1, p)
	}
	b.WriteString("Question: ")
	b.WriteString(question)

	return g.client.Chat(ctx, g.model, []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}, &Options{Temperature: 0})
}
