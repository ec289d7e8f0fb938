package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"text/template"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultPromptTemplate is used for text documents when no template is configured
const DefaultPromptTemplate = `You are a document title generator. Your task is to create ONE concise title for the document below.

RULES:
- Generate ONLY ONE title
- Output ONLY the title text, nothing else
- Do NOT include explanations, alternatives, or multiple options
- Do NOT include the file extension
- Keep it short and descriptive
- Write the title in {{.Language}}

{{.Examples}}

Document Content:
{{.Content}}

Original Filename: {{.Filename}}

Generate ONE title (one line only):`

// DefaultVisionPromptTemplate is used for image documents
const DefaultVisionPromptTemplate = `You are a document title generator. Look at the attached scanned document and create ONE concise title for it.

RULES:
- Generate ONLY ONE title
- Output ONLY the title text, nothing else
- Do NOT include the file extension
- Keep it short and descriptive
- Write the title in {{.Language}}

Original Filename: {{.Filename}}

Generate ONE title (one line only):`

// Example is a previously titled document shown to the model
type Example struct {
	Title   string
	Content string
}

// promptData is the template context; templates may use any of these fields
type promptData struct {
	Examples string
	Content  string
	Filename string
	Language string
}

func parseTemplate(name, text, fallback string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = fallback
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data promptData) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", tmpl.Name(), err)
	}
	return sb.String(), nil
}

// formatExamples renders retrieved neighbours as few-shot examples
func formatExamples(examples []Example, trunc *truncator, snippetTokens int) string {
	if len(examples) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Here are some examples of how similar documents were named:\n")
	for _, ex := range examples {
		snippet := trunc.truncate(strings.TrimSpace(ex.Content), snippetTokens)
		fmt.Fprintf(&sb, "- Content snippet: %s... -> Title: %s\n", snippet, ex.Title)
	}
	return sb.String()
}

// truncator limits text to a token budget using cl100k_base. When the
// encoding cannot be loaded it falls back to runesPerToken runes per token.
type truncator struct {
	enc           *tiktoken.Tiktoken
	runesPerToken int
}

const fallbackRunesPerToken = 2

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

func newTruncator(logger *slog.Logger) *truncator {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	if encodingErr != nil {
		logger.Warn("tiktoken encoding unavailable, truncating by characters",
			"error", encodingErr)
		return &truncator{runesPerToken: fallbackRunesPerToken}
	}
	return &truncator{enc: encoding, runesPerToken: fallbackRunesPerToken}
}

func (t *truncator) truncate(s string, maxTokens int) string {
	if maxTokens <= 0 || s == "" {
		return s
	}
	if t.enc == nil {
		runes := []rune(s)
		limit := maxTokens * t.runesPerToken
		if len(runes) <= limit {
			return s
		}
		return string(runes[:limit])
	}
	tokens := t.enc.Encode(s, nil, nil)
	if len(tokens) <= maxTokens {
		return s
	}
	return t.enc.Decode(tokens[:maxTokens])
}

// firstLine returns the first non-empty line of a model response, trimmed
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
