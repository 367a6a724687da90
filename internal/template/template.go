// Package template renders command strings and environment values against a
// flat set of string bindings.
//
// Rendering is a pure function: the engine calls Render once per spawn for
// the command script and once per environment value, with the effective
// bindings already overlaid by the flow package. A failed render never
// reaches the shell; the scheduler turns it into a node failure.
package template

import (
	"fmt"
	"strings"
	"text/template"
)

// RenderError reports a template that failed to parse or execute.
type RenderError struct {
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %q: %v", abbreviate(e.Template), e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Render expands {{.name}} references in tmpl using the given bindings.
// Unknown references are errors rather than empty expansions, so typos in
// config surface before a half-rendered script runs.
func Render(tmpl string, bindings map[string]string) (string, error) {
	t, err := template.New("").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", &RenderError{Template: tmpl, Err: err}
	}

	var sb strings.Builder
	if err := t.Execute(&sb, bindings); err != nil {
		return "", &RenderError{Template: tmpl, Err: err}
	}
	return sb.String(), nil
}

func abbreviate(s string) string {
	const max = 40
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
