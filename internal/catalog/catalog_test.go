package catalog_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdprio/internal/catalog"
	"tdprio/internal/domain"
)

func TestBuiltinNames(t *testing.T) {
	c := catalog.New()
	if diff := cmp.Diff([]string{"big", "default", "medium", "small"}, c.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestBuiltinShapes(t *testing.T) {
	c := catalog.New()
	for name, want := range map[string]int{"default": 4, "small": 5, "medium": 10, "big": 18} {
		root, err := c.Root(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, root.Len(), name)
		assert.False(t, root.Terminal(), name)
		assert.Equal(t, 0, root.Addressed(), name)
		ai, anchored := root.Anchor()
		require.True(t, anchored, name)
		assert.Equal(t, want-1, ai, "%s anchors its final item", name)

		ids := map[int]bool{}
		var rem float64
		for _, td := range root.Items() {
			ids[td.ID] = true
			rem += td.RemediationTime
		}
		assert.Len(t, ids, want, "%s ids must be unique", name)
		assert.Equal(t, root.Metrics().RemEffRel, rem, "%s reliability effort should be fully remediable", name)
	}
}

func TestEmptyNameIsDefault(t *testing.T) {
	c := catalog.New()
	d, err := c.Get("")
	require.NoError(t, err)
	assert.Equal(t, catalog.DefaultName, d.Name)
	assert.Equal(t, 266.0, d.Metrics.Lines)
}

func TestUnknownDataset(t *testing.T) {
	_, err := catalog.New().Root("huge")
	require.ErrorIs(t, err, catalog.ErrUnknownDataset)
}

func TestRootsAreIndependent(t *testing.T) {
	c := catalog.New()
	a, err := c.Root("small")
	require.NoError(t, err)
	child, err := a.Move(0)
	require.NoError(t, err)
	b, err := c.Root("small")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	assert.False(t, child.Equal(b))
}

func TestBuiltinAnchorsAreNotShared(t *testing.T) {
	c := catalog.New()
	small, err := c.Get("small")
	require.NoError(t, err)
	medium, err := c.Get("medium")
	require.NoError(t, err)
	// medium extends small; only medium's own final item is anchored.
	for i, td := range medium.Items {
		assert.Equal(t, i == len(medium.Items)-1, td.Last, "medium item %d", i)
	}
	assert.True(t, small.Items[len(small.Items)-1].Last)
}

const customYAML = `name: tiny
items:
  - [false, 1, 2, 4, 1, 0, false, 10]
  - [false, 2.5, 3, -1, 0, 3, true, 11]
metrics: [100, 120, 40, 6, 2, 3, 1, 8, 5, 2, 0, 0, 1, 4, 0, 5, 0, 2, 2, 3, 0]
`

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/tiny.yml", []byte(customYAML), 0o644))

	d, err := catalog.LoadFile(fs, "/data/tiny.yml")
	require.NoError(t, err)
	want := []domain.TechDebtItem{
		{Spend: 1, Defined: 2, LinesChanged: 4, DebtMaintain: 1, ID: 10},
		{Spend: 2.5, Defined: 3, LinesChanged: -1, RemediationTime: 3, Last: true, ID: 11},
	}
	if diff := cmp.Diff(want, d.Items); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 120.0, d.Metrics.Lines)
	assert.Equal(t, 3.0, d.Metrics.RemEffRel)

	c := catalog.New()
	require.NoError(t, c.Register(d))
	root, err := c.Root("tiny")
	require.NoError(t, err)
	assert.Equal(t, 2, root.Len())
}

func TestFromYAMLErrors(t *testing.T) {
	cases := map[string]string{
		"no name":       "items: [[false,1,1,0,0,0,true,1]]\nmetrics: [0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]\n",
		"no items":      "name: x\nmetrics: [0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]\n",
		"short metrics": "name: x\nitems: [[false,1,1,0,0,0,true,1]]\nmetrics: [1,2,3]\n",
		"short item":    "name: x\nitems: [[false,1,1]]\nmetrics: [0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]\n",
		"bad flag":      "name: x\nitems: [[1,1,1,0,0,0,false,1]]\nmetrics: [0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]\n",
		"duplicate ids": "name: x\nitems: [[false,1,1,0,0,0,false,1],[false,1,1,0,0,0,true,1]]\nmetrics: [0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]\n",
		"fractional id": "name: x\nitems: [[false,1,1,0,0,0,true,1.5]]\nmetrics: [0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]\n",
		"no anchor":     "name: x\nitems: [[false,1,1,0,0,0,false,1]]\nmetrics: [0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]\n",
		"two anchors":   "name: x\nitems: [[false,1,1,0,0,0,true,1],[false,1,1,0,0,0,true,2]]\nmetrics: [0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := catalog.FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := catalog.LoadFile(afero.NewMemMapFs(), "/nope.yml")
	assert.Error(t, err)
}
