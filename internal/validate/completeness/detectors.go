package completeness

import (
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// ===========================================================================
// Dead CLI flag
// ===========================================================================

// detectDeadCLIFlags flags add_argument("--name") registrations that are
// never read back as args.<name>.
func detectDeadCLIFlags(root *sitter.Node, src fileSource) []Issue {
	type flag struct {
		raw  string // as registered, e.g. --dry-run
		dest string // attribute name, e.g. dry_run
		line int
	}
	var flags []flag

	walk(root, func(n *sitter.Node) bool {
		if n.Type() != "call" {
			return true
		}
		fn := n.ChildByFieldName("function")
		if fn == nil || fn.Type() != "attribute" {
			return true
		}
		attr := fn.ChildByFieldName("attribute")
		if attr == nil || src.text(attr) != "add_argument" {
			return true
		}
		args := n.ChildByFieldName("arguments")
		if args == nil {
			return true
		}

		var raw, dest string
		for i := 0; i < int(args.NamedChildCount()); i++ {
			arg := args.NamedChild(i)
			switch arg.Type() {
			case "string":
				s := strings.Trim(src.text(arg), `"'`)
				if strings.HasPrefix(s, "--") && raw == "" {
					raw = s
				}
			case "keyword_argument":
				name := arg.ChildByFieldName("name")
				value := arg.ChildByFieldName("value")
				if name != nil && value != nil && src.text(name) == "dest" {
					dest = strings.Trim(src.text(value), `"'`)
				}
			}
		}
		if raw == "" {
			return true
		}
		if dest == "" {
			dest = strings.ReplaceAll(strings.TrimLeft(raw, "-"), "-", "_")
		}
		flags = append(flags, flag{raw: raw, dest: dest, line: src.line(n)})
		return true
	})

	if len(flags) == 0 {
		return nil
	}

	// Collect args.<name> references.
	referenced := make(map[string]bool)
	walk(root, func(n *sitter.Node) bool {
		if n.Type() != "attribute" {
			return true
		}
		obj := n.ChildByFieldName("object")
		attr := n.ChildByFieldName("attribute")
		if obj != nil && attr != nil && obj.Type() == "identifier" && src.text(obj) == "args" {
			referenced[src.text(attr)] = true
		}
		return true
	})

	var issues []Issue
	for _, f := range flags {
		if !referenced[f.dest] {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Detector: "dead_cli_flag",
				File:     src.path,
				Line:     f.line,
				Message:  fmt.Sprintf("flag %s is registered but args.%s is never read", f.raw, f.dest),
			})
		}
	}
	return issues
}

// ===========================================================================
// Empty branch
// ===========================================================================

// detectEmptyBranches flags if/elif/else bodies that are solely pass,
// return None, or ellipsis.
func detectEmptyBranches(root *sitter.Node, src fileSource) []Issue {
	var issues []Issue

	flagBlock := func(block *sitter.Node, label string) {
		if block == nil || !isStubBlock(block, src, false) {
			return
		}
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Detector: "empty_branch",
			File:     src.path,
			Line:     src.line(block),
			Message:  fmt.Sprintf("%s branch has no effect", label),
		})
	}

	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "if_statement":
			flagBlock(n.ChildByFieldName("consequence"), "if")
		case "elif_clause":
			flagBlock(n.ChildByFieldName("consequence"), "elif")
		case "else_clause":
			flagBlock(n.ChildByFieldName("body"), "else")
		}
		return true
	})
	return issues
}

// ===========================================================================
// Docstring-only function
// ===========================================================================

var dunderName = regexp.MustCompile(`^__\w+__$`)

// detectDocstringOnlyFunctions flags non-dunder, non-test functions whose
// body is a docstring optionally followed by a single stub statement.
func detectDocstringOnlyFunctions(root *sitter.Node, src fileSource) []Issue {
	var issues []Issue
	walk(root, func(n *sitter.Node) bool {
		if n.Type() != "function_definition" {
			return true
		}
		nameNode := n.ChildByFieldName("name")
		body := n.ChildByFieldName("body")
		if nameNode == nil || body == nil {
			return true
		}
		name := src.text(nameNode)
		if dunderName.MatchString(name) || strings.HasPrefix(name, "test_") {
			return true
		}

		stmts := namedChildren(body)
		if len(stmts) == 0 || !isDocstring(stmts[0], src) {
			return true
		}
		rest := stmts[1:]
		stubBody := len(rest) == 0 || (len(rest) == 1 && isStubStatement(rest[0], src))
		if stubBody {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Detector: "docstring_only_function",
				File:     src.path,
				Line:     src.line(n),
				Message:  fmt.Sprintf("function %s has a docstring but no implementation", name),
			})
		}
		return true
	})
	return issues
}

// ===========================================================================
// Trivial assertion
// ===========================================================================

var isNotNone = regexp.MustCompile(`is\s+not\s+None$`)

// detectTrivialAssertions flags test functions whose assertions are all of
// the form assert True / assert x is not None.
func detectTrivialAssertions(root *sitter.Node, src fileSource) []Issue {
	var issues []Issue
	walk(root, func(n *sitter.Node) bool {
		if n.Type() != "function_definition" {
			return true
		}
		nameNode := n.ChildByFieldName("name")
		body := n.ChildByFieldName("body")
		if nameNode == nil || body == nil {
			return true
		}
		name := src.text(nameNode)
		if !strings.HasPrefix(name, "test_") {
			return true
		}

		total, trivial := 0, 0
		walk(body, func(stmt *sitter.Node) bool {
			if stmt.Type() != "assert_statement" {
				return true
			}
			total++
			if stmt.NamedChildCount() > 0 && isTrivialAssertExpr(stmt.NamedChild(0), src) {
				trivial++
			}
			return true
		})

		if total > 0 && total == trivial {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Detector: "trivial_assertion",
				File:     src.path,
				Line:     src.line(n),
				Message:  fmt.Sprintf("test %s asserts nothing meaningful", name),
			})
		}
		return true
	})
	return issues
}

func isTrivialAssertExpr(expr *sitter.Node, src fileSource) bool {
	switch expr.Type() {
	case "true":
		return true
	case "integer":
		return src.text(expr) != "0"
	case "comparison_operator":
		return isNotNone.MatchString(src.text(expr))
	}
	return false
}

// ===========================================================================
// Unused import
// ===========================================================================

// detectUnusedImports flags imported names never referenced outside import
// statements. __future__ imports are exempt.
func detectUnusedImports(root *sitter.Node, src fileSource) []Issue {
	type binding struct {
		name string
		line int
	}
	var bindings []binding

	addDottedOrAliased := func(n *sitter.Node) {
		switch n.Type() {
		case "dotted_name":
			// "import os.path" binds "os".
			name := src.text(n)
			if idx := strings.Index(name, "."); idx >= 0 {
				name = name[:idx]
			}
			bindings = append(bindings, binding{name: name, line: src.line(n)})
		case "aliased_import":
			if alias := n.ChildByFieldName("alias"); alias != nil {
				bindings = append(bindings, binding{name: src.text(alias), line: src.line(n)})
			}
		}
	}

	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				addDottedOrAliased(n.NamedChild(i))
			}
			return false
		case "import_from_statement":
			module := n.ChildByFieldName("module_name")
			if module != nil && src.text(module) == "__future__" {
				return false
			}
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				if module != nil && child.StartByte() == module.StartByte() {
					continue
				}
				switch child.Type() {
				case "dotted_name":
					bindings = append(bindings, binding{name: src.text(child), line: src.line(child)})
				case "aliased_import":
					if alias := child.ChildByFieldName("alias"); alias != nil {
						bindings = append(bindings, binding{name: src.text(alias), line: src.line(child)})
					}
				}
			}
			return false
		}
		return true
	})

	if len(bindings) == 0 {
		return nil
	}

	used := make(map[string]bool)
	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement", "import_from_statement":
			return false
		case "identifier":
			used[src.text(n)] = true
		}
		return true
	})

	var issues []Issue
	for _, b := range bindings {
		if !used[b.name] {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Detector: "unused_import",
				File:     src.path,
				Line:     b.line,
				Message:  fmt.Sprintf("import %s is never used", b.name),
			})
		}
	}
	return issues
}

// ===========================================================================
// Shared stub predicates
// ===========================================================================

func namedChildren(n *sitter.Node) []*sitter.Node {
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

// isStubBlock reports whether every statement in a block is a stub. With
// allowDocstring, a leading docstring is ignored.
func isStubBlock(block *sitter.Node, src fileSource, allowDocstring bool) bool {
	stmts := namedChildren(block)
	if allowDocstring && len(stmts) > 0 && isDocstring(stmts[0], src) {
		stmts = stmts[1:]
	}
	if len(stmts) == 0 {
		return false
	}
	for _, stmt := range stmts {
		if !isStubStatement(stmt, src) {
			return false
		}
	}
	return true
}

// isStubStatement matches pass, return None (or bare return), and ellipsis.
func isStubStatement(stmt *sitter.Node, src fileSource) bool {
	switch stmt.Type() {
	case "pass_statement":
		return true
	case "return_statement":
		if stmt.NamedChildCount() == 0 {
			return true
		}
		return src.text(stmt.NamedChild(0)) == "None"
	case "expression_statement":
		return stmt.NamedChildCount() == 1 && stmt.NamedChild(0).Type() == "ellipsis"
	}
	return false
}

func isDocstring(stmt *sitter.Node, _ fileSource) bool {
	return stmt.Type() == "expression_statement" &&
		stmt.NamedChildCount() == 1 &&
		stmt.NamedChild(0).Type() == "string"
}
