package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func regionDoc(t *testing.T, inner string) (*Document, *Region) {
	t.Helper()
	doc := parse(t, `<html><body><div id="root"><!--live-begin: R-->`+inner+`<!--live-end: R--><p id="after">tail</p></div></body></html>`)
	regions := Scan(doc.Root())
	require.Len(t, regions, 1)
	return doc, regions[0]
}

func TestReconcile_Idempotent(t *testing.T) {
	markup := `<ul><li id="a">A</li><li id="b">B</li></ul><input name="q" value="x">`
	doc, r := regionDoc(t, markup)
	before := r.HTML()

	stats, added, removed, err := Reconcile(doc, r, markup)
	require.NoError(t, err)
	assert.False(t, stats.Changed())
	assert.Zero(t, stats.Replaced)
	assert.Empty(t, added)
	assert.Empty(t, removed)
	assert.Equal(t, before, r.HTML())
}

func TestReconcile_UpdatesInPlace(t *testing.T) {
	doc, r := regionDoc(t, `<span>0</span>`)
	span := r.Nodes()[0]

	stats, _, _, err := Reconcile(doc, r, `<span>1</span>`)
	require.NoError(t, err)
	assert.Equal(t, `<span>1</span>`, r.HTML())
	assert.Same(t, span, r.Nodes()[0], "matching element is kept")
	assert.Positive(t, stats.Updated)
	assert.Zero(t, stats.Added)

	// the range stays between the markers, before the following sibling
	after := doc.ByID("after")
	assert.Same(t, r.End, after.PrevSibling)
}

func TestReconcile_KeyedReorder(t *testing.T) {
	doc, r := regionDoc(t, `<ul><li data-live-key="1">one</li><li data-live-key="2">two</li><li data-live-key="3">three</li></ul>`)
	ul := r.Nodes()[0]
	first := ul.FirstChild
	third := ul.LastChild

	stats, _, removed, err := Reconcile(doc, r, `<ul><li data-live-key="3">three</li><li data-live-key="1">one</li></ul>`)
	require.NoError(t, err)

	assert.Equal(t, `<ul><li data-live-key="3">three</li><li data-live-key="1">one</li></ul>`, r.HTML())
	assert.Same(t, third, ul.FirstChild, "keyed nodes move instead of being rebuilt")
	assert.Same(t, first, ul.LastChild)
	assert.Equal(t, 1, stats.Removed)
	require.Len(t, removed, 1)
	assert.Equal(t, "two", TextContent(removed[0]))
}

func TestReconcile_PreservesLiveInputState(t *testing.T) {
	doc, r := regionDoc(t, `<form><input id="name" name="name" value=""><input id="agree" type="checkbox" name="agree"><p>hint</p></form>`)
	input := doc.ByID("name")
	box := doc.ByID("agree")
	doc.SetValue(input, "typed by user")
	doc.SetChecked(box, true)
	doc.Focus(input)

	_, _, _, err := Reconcile(doc, r, `<form><input id="name" name="name" value="server"><input id="agree" type="checkbox" name="agree"><p class="error">required</p></form>`)
	require.NoError(t, err)

	assert.Same(t, input, doc.ByID("name"))
	assert.Equal(t, "typed by user", doc.Value(input))
	assert.True(t, doc.Checked(box))
	assert.Same(t, input, doc.Focused())
	assert.Contains(t, r.HTML(), `<p class="error">required</p>`)
}

func TestReconcile_ReplacesDifferentKinds(t *testing.T) {
	doc, r := regionDoc(t, `<b>bold</b>`)
	old := r.Nodes()[0]
	doc.Focus(old)

	stats, added, removed, err := Reconcile(doc, r, `<i>italic</i>`)
	require.NoError(t, err)
	assert.Equal(t, `<i>italic</i>`, r.HTML())
	assert.Equal(t, 1, stats.Replaced)
	assert.Len(t, added, 1)
	assert.Equal(t, []*html.Node{old}, removed)
	assert.Nil(t, doc.Focused(), "focus is lost with the removed element")
}

func TestReconcile_EmptySource(t *testing.T) {
	doc, r := regionDoc(t, `<p>a</p><p>b</p>`)

	stats, _, _, err := Reconcile(doc, r, ``)
	require.NoError(t, err)
	assert.Empty(t, r.Nodes())
	assert.Equal(t, 2, stats.Removed)

	_, _, _, err = Reconcile(doc, r, `<p>c</p>`)
	require.NoError(t, err)
	assert.Equal(t, `<p>c</p>`, r.HTML())
}
