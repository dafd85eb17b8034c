package template

import (
	"fmt"
	"strings"
)

const (
	tagOpen  = "{{"
	tagClose = "}}"
)

// parse tokenizes src into an AST and collects structural errors:
// unbalanced {{#if}}/{{/if}} or {{#each}}/{{/each}} pairs, unknown block
// tags and malformed single-brace sequences. Parsing is error-tolerant so
// a best-effort tree is always returned alongside the error list.
func parse(src string) ([]node, []string) {
	var errs []string

	type frame struct {
		tag      string // "if" or "each"
		path     string
		children []node
	}
	root := &frame{}
	stack := []*frame{root}
	top := func() *frame { return stack[len(stack)-1] }

	pos := 0
	for pos < len(src) {
		open := strings.Index(src[pos:], tagOpen)
		if open < 0 {
			if stray := strings.Index(src[pos:], tagClose); stray >= 0 {
				errs = append(errs, fmt.Sprintf("stray '}}' at offset %d", pos+stray))
			}
			top().children = append(top().children, node{kind: nodeLiteral, text: src[pos:]})
			break
		}
		open += pos
		if open > pos {
			literal := src[pos:open]
			if stray := strings.Index(literal, tagClose); stray >= 0 {
				errs = append(errs, fmt.Sprintf("stray '}}' at offset %d", pos+stray))
			}
			top().children = append(top().children, node{kind: nodeLiteral, text: literal})
		}
		end := strings.Index(src[open+len(tagOpen):], tagClose)
		if end < 0 {
			errs = append(errs, fmt.Sprintf("unterminated '{{' at offset %d", open))
			top().children = append(top().children, node{kind: nodeLiteral, text: src[open:]})
			break
		}
		end += open + len(tagOpen)
		tag := strings.TrimSpace(src[open+len(tagOpen) : end])
		raw := src[open : end+len(tagClose)]
		pos = end + len(tagClose)

		switch {
		case strings.HasPrefix(tag, "#if"):
			path := strings.TrimSpace(strings.TrimPrefix(tag, "#if"))
			if path == "" {
				errs = append(errs, "'{{#if}}' missing condition path")
			}
			stack = append(stack, &frame{tag: "if", path: path})
		case strings.HasPrefix(tag, "#each"):
			path := strings.TrimSpace(strings.TrimPrefix(tag, "#each"))
			if path == "" {
				errs = append(errs, "'{{#each}}' missing sequence path")
			}
			stack = append(stack, &frame{tag: "each", path: path})
		case tag == "/if", tag == "/each":
			want := strings.TrimPrefix(tag, "/")
			if len(stack) == 1 {
				errs = append(errs, fmt.Sprintf("'{{%s}}' without matching opening tag", tag))
				continue
			}
			f := top()
			if f.tag != want {
				errs = append(errs, fmt.Sprintf("'{{%s}}' closes '{{#%s %s}}'", tag, f.tag, f.path))
			}
			stack = stack[:len(stack)-1]
			kind := nodeIf
			if f.tag == "each" {
				kind = nodeEach
			}
			top().children = append(top().children, node{kind: kind, path: f.path, children: f.children})
		case strings.HasPrefix(tag, "#"):
			errs = append(errs, fmt.Sprintf("unknown block tag '{{%s}}'", tag))
			top().children = append(top().children, node{kind: nodeLiteral, text: raw})
		case strings.HasPrefix(tag, "/"):
			errs = append(errs, fmt.Sprintf("unknown closing tag '{{%s}}'", tag))
		case tag == "":
			errs = append(errs, fmt.Sprintf("empty tag at offset %d", open))
		default:
			top().children = append(top().children, node{kind: nodeVariable, path: tag, text: raw})
		}
	}

	// Unclosed blocks: flatten their children back into the parent so
	// best-effort rendering still emits the content.
	for len(stack) > 1 {
		f := top()
		stack = stack[:len(stack)-1]
		errs = append(errs, fmt.Sprintf("unclosed '{{#%s %s}}'", f.tag, f.path))
		top().children = append(top().children, f.children...)
	}

	return root.children, errs
}
