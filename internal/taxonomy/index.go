package taxonomy

// Classification labels with special meaning to the resolver. The first
// three double as precedence anchors; none of them need to exist in the
// tree itself.
const (
	LabelConflicting   = "conflicting tags"
	LabelUnidentified  = "unidentified"
	LabelNone          = "none"
	LabelFalsePositive = "false-positive"
)

// kindOrder is the fixed precedence seed. Each kind's descendants are
// spliced into the flattened list immediately after the kind, in tree
// order. The order runs more specific to more generic; it is a tie-break
// ordering, not a popularity ranking.
var kindOrder = []string{
	LabelConflicting,
	LabelUnidentified,
	LabelNone,
	"mustelid",
	"cat",
	"possum",
	"hedgehog",
	"rodent",
	"leporidae",
}

// Index is the process-wide taxonomy lookup. It is built once at startup
// and never mutated afterwards, so it is safe for concurrent reads from
// any number of in-flight requests.
type Index struct {
	tree      *Tree
	ancestors map[string][]string
	rank      map[string]int
}

// NewIndex builds the ancestor table and the flattened precedence order
// from a loaded tree
func NewIndex(tree *Tree) *Index {
	ix := &Index{
		tree:      tree,
		ancestors: make(map[string][]string, len(tree.entries)),
		rank:      make(map[string]int),
	}

	for label := range tree.entries {
		ix.ancestors[label] = buildPath(tree, label)
	}

	for _, label := range buildPrecedence(tree) {
		if _, seen := ix.rank[label]; !seen {
			ix.rank[label] = len(ix.rank)
		}
	}

	return ix
}

// buildPath walks parent links from a label up to the root. The path
// starts with the label itself.
func buildPath(tree *Tree, label string) []string {
	path := []string{label}
	for cur := tree.Parent(label); cur != ""; cur = tree.Parent(cur) {
		path = append(path, cur)
	}
	return path
}

// buildPrecedence produces the flattened precedence list: the fixed kind
// order with each kind's descendants spliced in after it. Rebuilt
// wholesale whenever the tree is (re)loaded.
func buildPrecedence(tree *Tree) []string {
	var out []string
	for _, kind := range kindOrder {
		out = append(out, kind)
		out = appendDescendants(tree, kind, out)
	}
	return out
}

func appendDescendants(tree *Tree, label string, out []string) []string {
	for _, child := range tree.Children(label) {
		out = append(out, child)
		out = appendDescendants(tree, child, out)
	}
	return out
}

// AncestorsOf returns the ordered path from the label up to the root,
// starting with the label itself. Unknown labels fail closed with a
// single-element path so they remain votable.
func (ix *Index) AncestorsOf(label string) []string {
	if path, ok := ix.ancestors[label]; ok {
		return path
	}
	return []string{label}
}

// PrecedenceRank returns the label's position in the flattened precedence
// list. Labels absent from the list report ok=false and sort after all
// ranked labels.
func (ix *Index) PrecedenceRank(label string) (int, bool) {
	r, ok := ix.rank[label]
	return r, ok
}

// Less orders labels by precedence rank; unranked labels come after all
// ranked ones and compare alphabetically among themselves for determinism.
func (ix *Index) Less(a, b string) bool {
	ra, aok := ix.rank[a]
	rb, bok := ix.rank[b]
	switch {
	case aok && bok:
		return ra < rb
	case aok:
		return true
	case bok:
		return false
	default:
		return a < b
	}
}

// CommonAncestor returns the nearest label shared by the ancestor paths of
// every input label. Paths include the labels themselves, so a label that
// is an ancestor of all the others is its own answer. The tree root is a
// structural container, not a classification, and never counts as a shared
// ancestor: labels that meet only at the root report ok=false.
func (ix *Index) CommonAncestor(labels []string) (string, bool) {
	if len(labels) == 0 {
		return "", false
	}
	if len(labels) == 1 {
		return labels[0], true
	}

	sets := make([]map[string]bool, 0, len(labels)-1)
	for _, label := range labels[1:] {
		set := make(map[string]bool)
		for _, a := range ix.AncestorsOf(label) {
			set[a] = true
		}
		sets = append(sets, set)
	}

	// The first label's path runs specific to generic, so the first hit
	// is the nearest common ancestor.
	for _, candidate := range ix.AncestorsOf(labels[0]) {
		if candidate == ix.tree.Root() {
			continue
		}
		shared := true
		for _, set := range sets {
			if !set[candidate] {
				shared = false
				break
			}
		}
		if shared {
			return candidate, true
		}
	}
	return "", false
}

// Known reports whether the label exists in the taxonomy tree
func (ix *Index) Known(label string) bool {
	_, ok := ix.ancestors[label]
	return ok
}
