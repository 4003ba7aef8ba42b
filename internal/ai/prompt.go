package ai

import (
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"
)

// PromptData is the value templates are executed against.
type PromptData struct {
	Input    string
	Keywords []string
	Region   string
	Date     string
}

var promptFuncs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"truncate": func(n int, s string) string {
		return Truncate(s, n)
	},
}

// RenderPrompt executes a prompt rule template. Unknown fields are errors.
func RenderPrompt(tmpl string, data PromptData) (string, error) {
	t, err := template.New("prompt").Funcs(promptFuncs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}

// ValidateTemplate reports whether tmpl parses and renders with sample data.
func ValidateTemplate(tmpl string) error {
	_, err := RenderPrompt(tmpl, PromptData{Input: "x", Keywords: []string{"x"}, Region: "x", Date: "2006-01-02"})
	return err
}

// Truncate cuts s to at most n runes without splitting a rune. A
// non-positive n leaves s untouched.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// TitleFrom derives a headline from generated text: the first non-empty line
// without Markdown heading marks, capped at 200 runes.
func TitleFrom(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#*"))
		line = strings.Trim(line, "* ")
		if line != "" {
			return Truncate(line, 200)
		}
	}
	return ""
}
