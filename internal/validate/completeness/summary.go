package completeness

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Summarize reduces a Python source to its structural skeleton: import
// lines, class and function signatures, and docstring first lines. Used
// for files too large to analyze or excerpt in full.
func (a *Analyzer) Summarize(content []byte) (string, error) {
	tree, err := a.parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return "", err
	}
	defer tree.Close()

	src := fileSource{content: content}
	var lines []string
	summarizeBlock(tree.RootNode(), src, 0, &lines)
	return strings.Join(lines, "\n"), nil
}

func summarizeBlock(node *sitter.Node, src fileSource, depth int, out *[]string) {
	indent := strings.Repeat("    ", depth)

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "import_statement", "import_from_statement":
			*out = append(*out, indent+firstLine(src.text(child)))

		case "class_definition":
			appendSignature(child, src, indent, "class", out)
			if body := child.ChildByFieldName("body"); body != nil {
				appendDocstring(body, src, indent+"    ", out)
				summarizeBlock(body, src, depth+1, out)
			}

		case "function_definition":
			appendSignature(child, src, indent, "def", out)
			if body := child.ChildByFieldName("body"); body != nil {
				appendDocstring(body, src, indent+"    ", out)
			}

		case "decorated_definition":
			summarizeBlock(child, src, depth, out)
		}
	}
}

func appendSignature(def *sitter.Node, src fileSource, indent, keyword string, out *[]string) {
	name := def.ChildByFieldName("name")
	if name == nil {
		return
	}
	sig := keyword + " " + src.text(name)
	if params := def.ChildByFieldName("parameters"); params != nil {
		sig += src.text(params)
	}
	if ret := def.ChildByFieldName("return_type"); ret != nil {
		sig += " -> " + src.text(ret)
	}
	*out = append(*out, fmt.Sprintf("%s%s:", indent, sig))
}

func appendDocstring(body *sitter.Node, src fileSource, indent string, out *[]string) {
	stmts := namedChildren(body)
	if len(stmts) == 0 || !isDocstring(stmts[0], src) {
		return
	}
	doc := strings.Trim(src.text(stmts[0].NamedChild(0)), `"'`)
	*out = append(*out, indent+`"""`+firstLine(doc)+`"""`)
}

func firstLine(s string) string {
	if idx := strings.Index(s, "\n"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}
