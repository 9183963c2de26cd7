package taxonomy

import (
	"reflect"
	"testing"
)

const testTreeYAML = `
label: all
children:
  - label: mammal
    children:
      - label: possum
      - label: cat
      - label: mustelid
        children:
          - label: stoat
          - label: ferret
      - label: rodent
        children:
          - label: rat
          - label: mouse
  - label: bird
    children:
      - label: kiwi
  - label: vehicle
`

func testIndex(t *testing.T) *Index {
	t.Helper()
	tree, err := Parse([]byte(testTreeYAML))
	if err != nil {
		t.Fatalf("failed to parse test tree: %v", err)
	}
	return NewIndex(tree)
}

func TestParseRejectsBadTrees(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no root label", `children: [{label: cat}]`},
		{"empty child label", `{label: all, children: [{label: ""}]}`},
		{"duplicate label", `{label: all, children: [{label: cat}, {label: cat}]}`},
		{"not yaml", `{label: [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Errorf("expected parse error, got none")
			}
		})
	}
}

func TestAncestorsOf(t *testing.T) {
	ix := testIndex(t)

	tests := []struct {
		label    string
		expected []string
	}{
		{"possum", []string{"possum", "mammal", "all"}},
		{"stoat", []string{"stoat", "mustelid", "mammal", "all"}},
		{"vehicle", []string{"vehicle", "all"}},
		{"all", []string{"all"}},
		{"wombat", []string{"wombat"}}, // unknown labels fail closed
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got := ix.AncestorsOf(tt.label)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestPrecedenceSplicesDescendants(t *testing.T) {
	ix := testIndex(t)

	// mustelid's descendants come right after it, in tree order, and
	// before the next kind in the fixed list.
	ordered := []string{LabelConflicting, LabelUnidentified, LabelNone,
		"mustelid", "stoat", "ferret", "cat", "possum", "rodent", "rat", "mouse"}

	prev := -1
	for _, label := range ordered {
		rank, ok := ix.PrecedenceRank(label)
		if !ok {
			t.Fatalf("expected %q to be ranked", label)
		}
		if rank <= prev {
			t.Errorf("expected %q to rank after the previous label, got %d after %d", label, rank, prev)
		}
		prev = rank
	}

	if _, ok := ix.PrecedenceRank("bird"); ok {
		t.Errorf("expected bird to be unranked, it is not a kind or kind descendant")
	}
}

func TestLess(t *testing.T) {
	ix := testIndex(t)

	tests := []struct {
		name     string
		a, b     string
		expected bool
	}{
		{"ranked order", "mustelid", "cat", true},
		{"ranked order reversed", "cat", "mustelid", false},
		{"ranked before unranked", "mouse", "bird", true},
		{"unranked after ranked", "bird", "mouse", false},
		{"unranked alphabetical", "bird", "kiwi", true},
		{"unranked alphabetical reversed", "kiwi", "bird", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ix.Less(tt.a, tt.b); got != tt.expected {
				t.Errorf("Less(%q, %q): expected %v, got %v", tt.a, tt.b, tt.expected, got)
			}
		})
	}
}

func TestCommonAncestor(t *testing.T) {
	ix := testIndex(t)

	tests := []struct {
		name     string
		labels   []string
		expected string
		ok       bool
	}{
		{"siblings", []string{"possum", "rat"}, "mammal", true},
		{"same branch", []string{"stoat", "ferret"}, "mustelid", true},
		{"label is own ancestor", []string{"possum", "mammal"}, "mammal", true},
		{"three way", []string{"stoat", "rat", "cat"}, "mammal", true},
		{"single label", []string{"possum"}, "possum", true},
		{"root only shared", []string{"possum", "vehicle"}, "", false},
		{"across branches", []string{"kiwi", "rat"}, "", false},
		{"unknown label", []string{"possum", "wombat"}, "", false},
		{"empty", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ix.CommonAncestor(tt.labels)
			if ok != tt.ok || got != tt.expected {
				t.Errorf("expected (%q, %v), got (%q, %v)", tt.expected, tt.ok, got, ok)
			}
		})
	}
}
