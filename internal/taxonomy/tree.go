package taxonomy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Node is one entry in the classification tree as stored on disk.
type Node struct {
	Label    string  `yaml:"label"`
	Children []*Node `yaml:"children,omitempty"`
}

// Tree is the loaded classification tree, flattened into an arena of
// entries indexed by label. Parents are recorded as labels rather than
// pointers; the tree is read-only after load.
type Tree struct {
	root    string
	entries map[string]*entry
}

type entry struct {
	label    string
	parent   string // empty for the root
	children []string
}

// LoadFile reads and parses a taxonomy tree from a YAML file
func LoadFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Tree from YAML bytes
func Parse(data []byte) (*Tree, error) {
	var root Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}
	if root.Label == "" {
		return nil, fmt.Errorf("taxonomy root has no label")
	}

	tree := &Tree{
		root:    root.Label,
		entries: make(map[string]*entry),
	}
	if err := tree.add(&root, ""); err != nil {
		return nil, err
	}
	return tree, nil
}

func (t *Tree) add(node *Node, parent string) error {
	if node.Label == "" {
		return fmt.Errorf("taxonomy node under %q has no label", parent)
	}
	if _, exists := t.entries[node.Label]; exists {
		return fmt.Errorf("duplicate taxonomy label %q", node.Label)
	}

	e := &entry{label: node.Label, parent: parent}
	t.entries[node.Label] = e

	for _, child := range node.Children {
		e.children = append(e.children, child.Label)
		if err := t.add(child, node.Label); err != nil {
			return err
		}
	}
	return nil
}

// Root returns the root label of the tree
func (t *Tree) Root() string {
	return t.root
}

// Parent returns the parent label, or empty string for the root or
// unknown labels
func (t *Tree) Parent(label string) string {
	if e, ok := t.entries[label]; ok {
		return e.parent
	}
	return ""
}

// Children returns the direct children of a label in tree order
func (t *Tree) Children(label string) []string {
	if e, ok := t.entries[label]; ok {
		return e.children
	}
	return nil
}
