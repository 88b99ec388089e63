package liveregion

import (
	"bytes"
	"errors"
	"html/template"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveState(t *testing.T) {
	tests := []struct {
		name    string
		args    []interface{}
		want    interface{}
		wantErr bool
	}{
		{name: "no arguments", args: nil, want: nil},
		{name: "state only", args: []interface{}{map[string]int{"count": 1}}, want: map[string]int{"count": 1}},
		{
			name: "named only",
			args: []interface{}{"title", "Sign up"},
			want: map[string]interface{}{"title": "Sign up"},
		},
		{
			name: "state and named",
			args: []interface{}{struct {
				Count int `json:"count"`
			}{3}, "title", "Hits"},
			want: map[string]interface{}{"count": float64(3), "title": "Hits"},
		},
		{name: "non-string key", args: []interface{}{1, "x"}, wantErr: true},
		{name: "scalar state with names", args: []interface{}{5, "title", "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := liveState(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplateRenderer(t *testing.T) {
	tmpl := template.Must(template.New("").Funcs(FuncMap()).Parse(
		`{{define "item"}}<li class="item">  {{.name}}  </li>{{end}}`))

	r, err := NewTemplateRenderer(tmpl, false)
	require.NoError(t, err)

	out, err := r.Render("item", map[string]interface{}{"name": "<b>"})
	require.NoError(t, err)
	assert.Equal(t, `<li class="item">  &lt;b&gt;  </li>`, out)

	_, err = r.Render("missing", nil)
	assert.Error(t, err)

	// the set passed in is still unexecuted and can be cloned for pages
	_, err = tmpl.Clone()
	assert.NoError(t, err)
}

func TestTemplateRenderer_Minify(t *testing.T) {
	tmpl := template.Must(template.New("").Funcs(FuncMap()).Parse(
		`{{define "item"}}<li class="item">  {{.name}}  </li>{{end}}`))

	r, err := NewTemplateRenderer(tmpl, true)
	require.NoError(t, err)

	first, err := r.Render("item", map[string]interface{}{"name": "a"})
	require.NoError(t, err)
	second, err := r.Render("item", map[string]interface{}{"name": "a"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Less(t, len(first), len(`<li class="item">  a  </li>`))
}

func TestFuncMap_LiveOutsidePage(t *testing.T) {
	tmpl := template.Must(template.New("page").Funcs(FuncMap()).Parse(`{{live "counter"}}`))
	err := tmpl.Execute(&bytes.Buffer{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errLiveOutsidePage))
}

func TestTemplateRenderer_Shrink(t *testing.T) {
	r, err := NewTemplateRenderer(template.New(""), true)
	require.NoError(t, err)
	assert.Equal(t, "a b", r.shrink("  a \n\t b "))
	assert.Equal(t, "<p>x</p>", r.shrink("<p>x</p>"))
}
