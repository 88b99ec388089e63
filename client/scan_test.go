package client

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, markup string) *Document {
	t.Helper()
	doc, err := ParseDocument(strings.NewReader(markup))
	require.NoError(t, err)
	return doc
}

func TestScan(t *testing.T) {
	tests := []struct {
		name    string
		markup  string
		wantIDs []string
		wantLen map[string]int
	}{
		{
			name:    "single region",
			markup:  `<!--live-begin: A--> x <!--live-end: A-->`,
			wantIDs: []string{"A"},
			wantLen: map[string]int{"A": 1},
		},
		{
			name:    "mismatched end",
			markup:  `<!--live-begin: A--> x <!--live-end: B-->`,
			wantIDs: nil,
		},
		{
			name:    "several regions",
			markup:  `<div><!--live-begin: A--><b>1</b><i>2</i><!--live-end: A--></div><p><!--live-begin: B--><!--live-end: B--></p>`,
			wantIDs: []string{"A", "B"},
			wantLen: map[string]int{"A": 2, "B": 0},
		},
		{
			name:    "one bad region keeps the rest",
			markup:  `<!--live-begin: A-->a<!--live-end: X--><!--live-begin: B-->b<!--live-end: B-->`,
			wantIDs: []string{"B"},
		},
		{
			name:    "nested begin drops the outer region",
			markup:  `<!--live-begin: A--><!--live-begin: B-->b<!--live-end: B--><!--live-end: A-->`,
			wantIDs: []string{"B"},
		},
		{
			name:    "markers under different parents",
			markup:  `<div><!--live-begin: A--></div><div><!--live-end: A--></div>`,
			wantIDs: nil,
		},
		{
			name:    "unterminated",
			markup:  `<!--live-begin: A-->x`,
			wantIDs: nil,
		},
		{
			name:    "unrelated comments",
			markup:  `<!-- hello --><!--live-begin: A-->x<!-- note --><!--live-end: A-->`,
			wantIDs: []string{"A"},
			wantLen: map[string]int{"A": 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parse(t, "<html><body>"+tt.markup+"</body></html>")
			regions := Scan(doc.Root())

			var ids []string
			for _, r := range regions {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			for _, r := range regions {
				if n, ok := tt.wantLen[r.ID]; ok {
					assert.Len(t, r.Nodes(), n, "region %s", r.ID)
				}
			}
		})
	}
}

func TestRegion_HTMLAndOwner(t *testing.T) {
	doc := parse(t, `<body><!--live-begin: A--><ul><li id="x">one</li></ul><!--live-end: A--><p id="out">no</p></body>`)
	regions := Scan(doc.Root())
	require.Len(t, regions, 1)

	assert.Equal(t, `<ul><li id="x">one</li></ul>`, regions[0].HTML())
	assert.Same(t, regions[0], Owner(regions, doc.ByID("x")))
	assert.Nil(t, Owner(regions, doc.ByID("out")))
}
