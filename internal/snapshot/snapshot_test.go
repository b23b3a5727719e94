package snapshot

import "testing"

type countingNode struct {
	label    string
	desc     string
	children []Node
	released int
}

func (n *countingNode) Label() string       { return n.label }
func (n *countingNode) Description() string { return n.desc }
func (n *countingNode) Children() []Node    { return n.children }
func (n *countingNode) Release()            { n.released++ }

func TestExtractPreOrder(t *testing.T) {
	t.Parallel()

	root := &Tree{
		Text: "  Welcome ",
		Nodes: []*Tree{
			{Text: "1. Deposit", ContentDesc: "option one"},
			{Text: "   ", ContentDesc: ""},
			{Nodes: []*Tree{{ContentDesc: " nested "}}},
			nil,
		},
	}

	got := Extract(root)
	want := "Welcome\n1. Deposit\noption one\nnested\n"
	if got != want {
		t.Fatalf("Extract()=%q, want %q", got, want)
	}
}

func TestExtractNilRoot(t *testing.T) {
	t.Parallel()

	if got := Extract(nil); got != "" {
		t.Fatalf("Extract(nil)=%q", got)
	}
	var tree *Tree
	if got := Extract(tree); got != "" {
		t.Fatalf("Extract(typed nil)=%q", got)
	}
}

type panickyNode struct{ text string }

func (n *panickyNode) Label() string {
	if n.text == "" {
		panic("label unavailable")
	}
	return n.text
}
func (n *panickyNode) Description() string { return "" }
func (n *panickyNode) Children() []Node    { return nil }

func TestExtractIsTotal(t *testing.T) {
	t.Parallel()

	var typedNil *countingNode
	var nilPanicky *panickyNode
	root := &countingNode{
		label: "Menu",
		children: []Node{
			typedNil,
			nilPanicky,
			&panickyNode{},
			&panickyNode{text: "1. Deposit"},
			&countingNode{children: []Node{typedNil}, desc: "footer"},
		},
	}

	got := Extract(root)
	want := "Menu\n1. Deposit\nfooter\n"
	if got != want {
		t.Fatalf("Extract()=%q, want %q", got, want)
	}
	if got := Extract(typedNil); got != "" {
		t.Fatalf("typed nil root: Extract()=%q", got)
	}
}

func TestExtractReleasesEachChildOnce(t *testing.T) {
	t.Parallel()

	leaf := &countingNode{label: "leaf"}
	mid := &countingNode{label: "mid", children: []Node{leaf}}
	root := &countingNode{label: "root", children: []Node{mid, nil}}

	if got := Extract(root); got != "root\nmid\nleaf\n" {
		t.Fatalf("Extract()=%q", got)
	}
	if leaf.released != 1 || mid.released != 1 {
		t.Fatalf("released leaf=%d mid=%d, want 1/1", leaf.released, mid.released)
	}
	if root.released != 0 {
		t.Fatalf("root is owned by the caller, released=%d", root.released)
	}
}

func TestFromTextRoundTrip(t *testing.T) {
	t.Parallel()

	got := Extract(FromText("Deposit\n\n1. MPESA to LOOP"))
	if got != "Deposit\n1. MPESA to LOOP\n" {
		t.Fatalf("Extract(FromText)=%q", got)
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	got := Clean("CAPTURED USSD RESPONSE\nEvent Type: Enter PIN:  ")
	if got != "Enter PIN:" {
		t.Fatalf("Clean()=%q", got)
	}
}
