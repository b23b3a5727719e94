package snapshot

import "strings"

// Tree is a plain, JSON-decodable Node. It is what remote observers post to
// the HTTP API and what the simulator renders.
type Tree struct {
	Text        string  `json:"text,omitempty"`
	ContentDesc string  `json:"contentDescription,omitempty"`
	Nodes       []*Tree `json:"children,omitempty"`
}

var _ Node = (*Tree)(nil)

// Label implements Node.
func (t *Tree) Label() string { return t.Text }

// Description implements Node.
func (t *Tree) Description() string { return t.ContentDesc }

// Children implements Node.
func (t *Tree) Children() []Node {
	if len(t.Nodes) == 0 {
		return nil
	}
	out := make([]Node, len(t.Nodes))
	for i, c := range t.Nodes {
		out[i] = c
	}
	return out
}

// FromText builds a dialog-shaped tree with one child per line of text, the
// way a native USSD dialog lays out its message.
func FromText(text string) *Tree {
	root := &Tree{}
	for _, line := range strings.Split(text, "\n") {
		root.Nodes = append(root.Nodes, &Tree{Text: line})
	}
	return root
}
