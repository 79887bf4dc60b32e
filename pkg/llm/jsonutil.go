package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	// jsonBlockPattern matches JSON inside markdown code blocks: ```json { ... } ```
	jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	// jsonObjectPattern matches any JSON object (greedy fallback).
	jsonObjectPattern = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls a JSON object out of a model reply, unwrapping markdown
// code fences. It returns "" when no object is present.
func ExtractJSON(content string) string {
	if m := jsonBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return jsonObjectPattern.FindString(content)
}

// decodeReply unmarshals a model reply into v. The object is decoded as-is
// first; trailing commas are only stripped when that fails, so string values
// are never rewritten for a well-formed reply.
func decodeReply(content string, v any) error {
	raw := ExtractJSON(content)
	if raw == "" {
		raw = content
	}
	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}
	repaired := trailingCommaPattern.ReplaceAllString(raw, "$1")
	if repaired == raw {
		return err
	}
	if err2 := json.Unmarshal([]byte(repaired), v); err2 != nil {
		return err
	}
	return nil
}
