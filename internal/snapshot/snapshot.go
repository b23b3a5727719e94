// Package snapshot flattens a UI-tree observation into the single text blob
// the classifier works on.
package snapshot

import (
	"reflect"
	"strings"
)

// Node is one element of an observed UI tree.
type Node interface {
	// Label is the node's primary visible text.
	Label() string
	// Description is the node's accessible description.
	Description() string
	// Children returns the node's children in display order. Entries may
	// be nil.
	Children() []Node
}

// Releaser is implemented by nodes that hold a resource which must be freed
// once the node has been visited.
type Releaser interface {
	Release()
}

// Extract walks root in pre-order and returns every non-empty label and
// description, trimmed and newline-terminated. A nil root yields "".
//
// Extract never panics: nil entries (including typed nils of any Node
// implementation) are skipped, and a node whose accessors panic is skipped
// together with its subtree.
func Extract(root Node) string {
	var b strings.Builder
	extract(root, &b)
	return b.String()
}

func extract(n Node, b *strings.Builder) {
	if isNil(n) {
		return
	}
	label, desc, children, ok := read(n)
	if !ok {
		return
	}
	if label = strings.TrimSpace(label); label != "" {
		b.WriteString(label)
		b.WriteByte('\n')
	}
	if desc = strings.TrimSpace(desc); desc != "" {
		b.WriteString(desc)
		b.WriteByte('\n')
	}
	for _, child := range children {
		if isNil(child) {
			continue
		}
		extract(child, b)
		if r, ok := child.(Releaser); ok {
			release(r)
		}
	}
}

// read collects a node's fields, reporting false if any accessor panics.
func read(n Node) (label, desc string, children []Node, ok bool) {
	defer func() {
		if recover() != nil {
			label, desc, children, ok = "", "", nil, false
		}
	}()
	return n.Label(), n.Description(), n.Children(), true
}

func release(r Releaser) {
	defer func() { _ = recover() }()
	r.Release()
}

func isNil(n Node) bool {
	if n == nil {
		return true
	}
	v := reflect.ValueOf(n)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// captureBanners are prefixes some capture tools prepend to raw dialog text.
var captureBanners = []string{
	"CAPTURED USSD RESPONSE",
	"ACCESSIBILITY EVENT",
	"Event Type:",
	"Class Name:",
}

// Clean removes capture banners and surrounding whitespace from raw text.
func Clean(raw string) string {
	for _, banner := range captureBanners {
		raw = strings.ReplaceAll(raw, banner, "")
	}
	return strings.TrimSpace(raw)
}
