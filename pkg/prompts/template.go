// Package prompts renders system prompt templates.
//
// Templates use text/template syntax with the sprig function set, for example:
//
//	You are a shell assistant running on {{ .OS }}. Today is {{ now | date "2006-01-02" }}.
package prompts

import (
	"maps"
	"os"
	"runtime"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/pkg/llms"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are a helpful AI assistant running on {{ .OS }}. " +
	"You have access to tools. If you need to use a tool, explain what you're doing."

// Template is a parsed prompt template.
type Template struct {
	name string
	text string
	tmpl *template.Template
}

// New parses text as a template. Referencing a key missing from the data is an error.
func New(name, text string) (*Template, error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse prompt template %q", name)
	}
	return &Template{
		name: name,
		text: text,
		tmpl: tmpl,
	}, nil
}

// Name returns the template name.
func (t *Template) Name() string {
	return t.name
}

// Text returns the unparsed template text.
func (t *Template) Text() string {
	return t.text
}

// Format executes the template with DefaultData overlaid by data.
func (t *Template) Format(data map[string]any) (string, error) {
	vals := DefaultData()
	maps.Copy(vals, data)

	var buf strings.Builder
	if err := t.tmpl.Execute(&buf, vals); err != nil {
		return "", errors.Wrapf(err, "unable to render prompt template %q", t.name)
	}
	return strings.TrimSpace(buf.String()), nil
}

// FormatMessage renders the template as a system message.
func (t *Template) FormatMessage(data map[string]any) (llms.Message, error) {
	s, err := t.Format(data)
	if err != nil {
		return llms.Message{}, err
	}
	return llms.MessageFromTextParts(llms.RoleSystem, s), nil
}

// Render parses and executes text in one step.
func Render(text string, data map[string]any) (string, error) {
	t, err := New("prompt", text)
	if err != nil {
		return "", err
	}
	return t.Format(data)
}

// DefaultData returns the values available to every template:
// OS, Arch, Cwd, Hostname and User.
func DefaultData() map[string]any {
	cwd, _ := os.Getwd()
	host, _ := os.Hostname()
	return map[string]any{
		"OS":       runtime.GOOS,
		"Arch":     runtime.GOARCH,
		"Cwd":      cwd,
		"Hostname": host,
		"User":     os.Getenv("USER"),
	}
}
