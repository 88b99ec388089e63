package liveregion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"
)

var errLiveOutsidePage = errors.New("live: only available while rendering a page with Server.RenderPage")

// FuncMap declares the template functions pages use. Add it before parsing:
//
//	tmpl := template.Must(template.New("").Funcs(liveregion.FuncMap()).ParseFS(fsys, "*.html"))
//
// {{live "counter" .Counter}} renders template "counter" as a live region. Extra
// key/value arguments are merged into the state: {{live "form" . "title" "Sign up"}}.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"live": func(string, ...interface{}) (template.HTML, error) {
			return "", errLiveOutsidePage
		},
	}
}

// TemplateRenderer renders region sources from named html/template templates.
type TemplateRenderer struct {
	templates *template.Template
	minifier  *minify.M // nil leaves sources as rendered
}

// NewTemplateRenderer clones templates for rendering regions. The set passed in
// stays unexecuted, so pages can keep cloning it.
func NewTemplateRenderer(templates *template.Template, compact bool) (*TemplateRenderer, error) {
	clone, err := templates.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone templates: %w", err)
	}
	clone.Funcs(FuncMap())

	r := &TemplateRenderer{templates: clone}
	if compact {
		r.minifier = newMinifier()
	}
	return r, nil
}

// newMinifier keeps end tags and quotes; the client morphs against the element
// structure the template wrote.
func newMinifier() *minify.M {
	m := minify.New()
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	return m
}

// Render executes the template named templatePath with state
func (r *TemplateRenderer) Render(templatePath string, state interface{}) (string, error) {
	tmpl := r.templates.Lookup(templatePath)
	if tmpl == nil {
		return "", fmt.Errorf("no template named %q", templatePath)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, state); err != nil {
		return "", err
	}
	if r.minifier == nil {
		return buf.String(), nil
	}
	return r.shrink(buf.String()), nil
}

// shrink minifies a rendered source. Text-only sources just have their
// whitespace collapsed. The output is a pure function of the input, so equal
// states keep producing equal hashes.
func (r *TemplateRenderer) shrink(source string) string {
	if !strings.Contains(source, "<") {
		return strings.Join(strings.Fields(source), " ")
	}
	out, err := r.minifier.String("text/html", source)
	if err != nil {
		return source
	}
	return out
}

// liveState builds a region's initial state from the live helper's arguments:
// an optional state value followed by key/value pairs.
func liveState(args []interface{}) (interface{}, error) {
	var state interface{}
	pairs := args
	if len(args)%2 == 1 {
		state, pairs = args[0], args[1:]
	}
	if len(pairs) == 0 {
		return state, nil
	}

	var merged map[string]interface{}
	if state != nil {
		raw, err := json.Marshal(state)
		if err != nil {
			return nil, fmt.Errorf("live: encode state: %w", err)
		}
		if err := json.Unmarshal(raw, &merged); err != nil {
			return nil, fmt.Errorf("live: named arguments need an object state: %w", err)
		}
	}
	if merged == nil {
		merged = make(map[string]interface{}, len(pairs)/2)
	}

	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("live: argument %d must be a string key, got %T", i+1, pairs[i])
		}
		merged[key] = pairs[i+1]
	}
	return merged, nil
}
