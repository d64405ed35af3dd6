package dict

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// NotFound is the handle every failed query returns.
const NotFound = 0

type node struct {
	elem *etree.Element
	next int // handle of the next query result, or NotFound
}

type queryKey struct {
	from  int
	query string
}

// Dictionary owns parsed documents and issued node handles. It is not
// safe for concurrent use; shading threads each carry their own.
type Dictionary struct {
	docs    map[string]*etree.Document
	nodes   []node
	queries map[queryKey]int
}

// New creates an empty dictionary.
func New() *Dictionary {
	return &Dictionary{
		docs:    make(map[string]*etree.Document),
		nodes:   make([]node, 1), // handle 0 is NotFound
		queries: make(map[queryKey]int),
	}
}

// document parses source as inline XML when it looks like markup, and as
// a filename otherwise. Parses are memoized by the source text.
func (d *Dictionary) document(source string) (*etree.Document, error) {
	if doc, ok := d.docs[source]; ok {
		if doc == nil {
			return nil, fmt.Errorf("dict: document %q previously failed to parse", truncate(source))
		}
		return doc, nil
	}
	doc := etree.NewDocument()
	var err error
	if strings.HasPrefix(strings.TrimSpace(source), "<") {
		err = doc.ReadFromString(source)
	} else {
		var data []byte
		data, err = os.ReadFile(source)
		if err == nil {
			err = doc.ReadFromBytes(data)
		}
	}
	if err != nil {
		d.docs[source] = nil
		return nil, fmt.Errorf("dict: parsing %q: %w", truncate(source), err)
	}
	d.docs[source] = doc
	return doc, nil
}

func truncate(s string) string {
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// Find evaluates a path query against a document and returns the handle
// of the first matching node, or NotFound. Repeated identical queries
// return the memoized handle.
func (d *Dictionary) Find(source, query string) (int, error) {
	doc, err := d.document(source)
	if err != nil {
		return NotFound, err
	}
	// The document itself gets a handle, so memoization can key child
	// queries off it.
	rootKey := queryKey{from: -1, query: source}
	rootHandle, ok := d.queries[rootKey]
	if !ok {
		rootHandle = d.addResults([]*etree.Element{&doc.Element})
		d.queries[rootKey] = rootHandle
	}
	return d.findFrom(rootHandle, &doc.Element, query)
}

// FindFrom evaluates a path query relative to a previously returned
// node handle.
func (d *Dictionary) FindFrom(from int, query string) (int, error) {
	if from <= NotFound || from >= len(d.nodes) {
		return NotFound, nil
	}
	return d.findFrom(from, d.nodes[from].elem, query)
}

func (d *Dictionary) findFrom(from int, elem *etree.Element, query string) (int, error) {
	key := queryKey{from: from, query: query}
	if h, ok := d.queries[key]; ok {
		return h, nil
	}
	path, err := etree.CompilePath(query)
	if err != nil {
		d.queries[key] = NotFound
		return NotFound, fmt.Errorf("dict: bad query %q: %w", query, err)
	}
	h := d.addResults(elem.FindElementsPath(path))
	d.queries[key] = h
	return h, nil
}

// addResults issues handles for a result list, chained through next.
func (d *Dictionary) addResults(elems []*etree.Element) int {
	if len(elems) == 0 {
		return NotFound
	}
	first := len(d.nodes)
	for range elems {
		d.nodes = append(d.nodes, node{})
	}
	for i, e := range elems {
		next := NotFound
		if i+1 < len(elems) {
			next = first + i + 1
		}
		d.nodes[first+i] = node{elem: e, next: next}
	}
	return first
}

// Next returns the handle of the following node in the same query
// result list, or NotFound.
func (d *Dictionary) Next(handle int) int {
	if handle <= NotFound || handle >= len(d.nodes) {
		return NotFound
	}
	return d.nodes[handle].next
}

// Value returns the named attribute of a node. The name "name" falls
// back to the element tag when no such attribute exists, and the empty
// name means the node's text content.
func (d *Dictionary) Value(handle int, attrib string) (string, bool) {
	if handle <= NotFound || handle >= len(d.nodes) {
		return "", false
	}
	elem := d.nodes[handle].elem
	if attrib == "" {
		return elem.Text(), true
	}
	if a := elem.SelectAttr(attrib); a != nil {
		return a.Value, true
	}
	if attrib == "name" {
		return elem.Tag, true
	}
	return "", false
}

// FloatValue reads an attribute as a float32.
func (d *Dictionary) FloatValue(handle int, attrib string) (float32, bool) {
	s, ok := d.Value(handle, attrib)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		return 0, false
	}
	return float32(v), true
}

// IntValue reads an attribute as an int32.
func (d *Dictionary) IntValue(handle int, attrib string) (int32, bool) {
	s, ok := d.Value(handle, attrib)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(v), true
}

// FloatsValue reads an attribute as whitespace-separated float32s,
// requiring exactly want values when want is positive.
func (d *Dictionary) FloatsValue(handle int, attrib string, want int) ([]float32, bool) {
	s, ok := d.Value(handle, attrib)
	if !ok {
		return nil, false
	}
	fields := strings.Fields(s)
	if want > 0 && len(fields) != want {
		return nil, false
	}
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, false
		}
		out[i] = float32(v)
	}
	return out, true
}
