// Package template implements the handlebars-style email template engine:
// {{path}} substitution, {{#if path}} conditional blocks and {{#each path}}
// iteration blocks. Templates are parsed once into an AST and rendered
// against a variable bag; rendering is pure and deterministic.
package template

import (
	"fmt"
	"strings"
)

type nodeKind int

const (
	nodeLiteral nodeKind = iota
	nodeVariable
	nodeIf
	nodeEach
)

type node struct {
	kind     nodeKind
	text     string // literal content, or the raw tag for unresolved output
	path     string // dotted path for variable/if/each
	children []node
}

// Template is a parsed template ready for repeated rendering.
type Template struct {
	source string
	nodes  []node
}

// Source returns the original template text.
func (t *Template) Source() string { return t.source }

// Parse compiles src into a Template. Structural errors (unbalanced or
// unknown block tags) are returned; a nil error means the template is safe
// to render.
func Parse(src string) (*Template, error) {
	nodes, errs := parse(src)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid template: %s", strings.Join(errs, "; "))
	}
	return &Template{source: src, nodes: nodes}, nil
}

// Validate returns the list of structural problems in src, or nil when the
// template would parse cleanly. Used for catalog admission so malformed
// templates fail at save time, never at send time.
func Validate(src string) []string {
	_, errs := parse(src)
	return errs
}

// Render evaluates the template against vars. Unresolved variable
// references are left verbatim in the output so a missing optional field
// never produces a blank email.
func (t *Template) Render(vars map[string]interface{}) string {
	var b strings.Builder
	renderNodes(&b, t.nodes, newScope(vars, nil))
	return b.String()
}

// Render is the one-shot convenience used when the parsed form is not
// cached. Malformed sources render as-is with tags resolved best effort.
func Render(src string, vars map[string]interface{}) string {
	t, err := Parse(src)
	if err != nil {
		nodes, _ := parse(src)
		var b strings.Builder
		renderNodes(&b, nodes, newScope(vars, nil))
		return b.String()
	}
	return t.Render(vars)
}

// scope chains an each-block's local bindings (this, index, first, last)
// over the outer variable bag.
type scope struct {
	vars   map[string]interface{}
	parent *scope
}

func newScope(vars map[string]interface{}, parent *scope) *scope {
	return &scope{vars: vars, parent: parent}
}

func (s *scope) lookup(path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := resolvePath(cur.vars, parts); ok {
			return v, true
		}
	}
	return nil, false
}

func resolvePath(bag map[string]interface{}, parts []string) (interface{}, bool) {
	var current interface{} = bag
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func renderNodes(b *strings.Builder, nodes []node, sc *scope) {
	for _, n := range nodes {
		switch n.kind {
		case nodeLiteral:
			b.WriteString(n.text)
		case nodeVariable:
			if v, ok := sc.lookup(n.path); ok {
				b.WriteString(stringify(v))
			} else {
				b.WriteString(n.text) // leave the raw tag verbatim
			}
		case nodeIf:
			v, ok := sc.lookup(n.path)
			if ok && truthy(v) {
				renderNodes(b, n.children, sc)
			}
		case nodeEach:
			v, ok := sc.lookup(n.path)
			if !ok {
				continue
			}
			items := asSlice(v)
			for i, item := range items {
				local := map[string]interface{}{
					"this":  item,
					"index": i,
					"first": i == 0,
					"last":  i == len(items)-1,
				}
				renderNodes(b, n.children, newScope(local, sc))
			}
		}
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		// JSON numbers decode as float64; print integers without the
		// trailing .0 noise.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

func asSlice(v interface{}) []interface{} {
	switch t := v.(type) {
	case []interface{}:
		return t
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	default:
		return nil
	}
}
