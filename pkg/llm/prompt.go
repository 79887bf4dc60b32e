package llm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"

	"github.com/japaniel/lexicon/pkg/db"
)

// systemPrompt tells the model what a formatting pass is and pins the reply shape.
const systemPrompt = `You clean up entries of an exercise and glossary lexicon.
Fix spacing, capitalization, punctuation and obvious typos, and lay the text out
as readable Markdown (short paragraphs, lists for steps). Keep the meaning,
terminology and language of the original. Do not invent content.

Reply with a single JSON object and nothing else:
{"formatted_text": "<the cleaned body>", "title": "<cleaned title, or empty if unchanged>"}`

// htmlTagPattern detects bodies stored as HTML fragments.
var htmlTagPattern = regexp.MustCompile(`(?i)</?(p|br|div|ul|ol|li|strong|em|b|i|h[1-6]|span|a)\b[^>]*>`)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// promptBuilder turns a record into chat messages.
type promptBuilder struct {
	md     *converter.Converter
	policy *bluemonday.Policy
}

func newPromptBuilder() *promptBuilder {
	return &promptBuilder{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// Messages builds the request for rec. HTML bodies are sanitized and
// converted to Markdown so the model sees the same kind of text it is asked
// to produce, without scripts or inline handlers.
func (b *promptBuilder) Messages(rec db.Record) []Message {
	body := rec.Body
	if htmlTagPattern.MatchString(body) {
		if md, err := b.md.ConvertString(b.policy.Sanitize(body)); err == nil && strings.TrimSpace(md) != "" {
			body = md
		}
	}

	var user strings.Builder
	if rec.Title != "" {
		fmt.Fprintf(&user, "Title: %s\n\n", rec.Title)
	}
	fmt.Fprintf(&user, "Body:\n%s", body)

	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user.String()},
	}
}
