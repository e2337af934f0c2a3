// Package extract parses Python source modules and pulls out the context a
// test-generation prompt needs: top-level definitions, import bindings,
// module-body variables, and the locally-defined call targets a given
// function or method depends on.
//
// Parsing uses Tree-sitter rather than a live interpreter, so "is this name a
// class" questions are answered from a static symbol table built over the
// module and its sibling modules. The tradeoff is reduced precision for
// dynamically-created attributes, which is acceptable: context extraction must
// over-include rather than silently omit.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"testforge/pkg/logx"
)

// ParseError indicates a module could not be parsed into a usable syntax tree.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DefKind distinguishes functions from classes.
type DefKind string

const (
	DefFunction DefKind = "function"
	DefClass    DefKind = "class"
)

// Definition is one function or class definition with its parser-reported
// line range (1-based, inclusive, decorators included).
type Definition struct {
	Name       string
	Kind       DefKind
	StartLine  int
	EndLine    int
	Methods    []*Definition // populated for classes
	node       *sitter.Node  // function_definition / class_definition
	outer      *sitter.Node  // decorated_definition wrapper, if any
	attributes []*sitter.Node
	source     string
}

// Source returns the definition's exact source text, decorators included.
func (d *Definition) Source() string {
	return d.source
}

// Method looks up a method by name on a class definition.
func (d *Definition) Method(name string) *Definition {
	for _, m := range d.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Init returns the class constructor definition, or nil.
func (d *Definition) Init() *Definition {
	return d.Method("__init__")
}

// ImportBinding records one name bound by an import statement.
type ImportBinding struct {
	Alias     string // name usable in the module namespace
	Origin    string // module path (import x, from x import y -> "x")
	Symbol    string // imported symbol for from-imports, "" otherwise
	Relative  bool
	Statement string // verbatim statement text
}

// SourceUnit is one analyzed module. Built once per module selection and
// immutable afterwards.
type SourceUnit struct {
	Path       string
	ModuleName string // file stem, e.g. "accounts" for accounts.py
	ProjectDir string
	Source     []byte
	Lines      []string

	Functions []*Definition
	Classes   []*Definition
	Imports   []ImportBinding

	bodyStatements []*sitter.Node // non-import, non-definition top-level statements
	siblings       map[string]*SourceUnit
	tree           *sitter.Tree
	logger         *logx.Logger
}

// Parse reads and parses one Python module. projectDir is the root of the
// repository under test; it anchors the "is this import local" heuristic and
// sibling-module resolution.
func Parse(path, projectDir string) (*SourceUnit, error) {
	if !strings.HasSuffix(path, ".py") {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("not a python module")}
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	root := tree.RootNode()
	if root.HasError() {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("syntax error in module")}
	}

	unit := &SourceUnit{
		Path:       path,
		ModuleName: strings.TrimSuffix(filepath.Base(path), ".py"),
		ProjectDir: projectDir,
		Source:     source,
		Lines:      strings.Split(string(source), "\n"),
		siblings:   make(map[string]*SourceUnit),
		tree:       tree,
		logger:     logx.NewLogger("extract"),
	}
	unit.collectTopLevel(root)
	return unit, nil
}

func (u *SourceUnit) text(n *sitter.Node) string {
	return string(u.Source[n.StartByte():n.EndByte()])
}

// collectTopLevel walks the module body and buckets statements into imports,
// definitions, and everything else.
func (u *SourceUnit) collectTopLevel(root *sitter.Node) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "import_statement", "import_from_statement":
			u.collectImport(child)
		case "function_definition":
			u.Functions = append(u.Functions, u.newDefinition(child, nil, DefFunction))
		case "class_definition":
			u.Classes = append(u.Classes, u.newClass(child, nil))
		case "decorated_definition":
			if def := child.ChildByFieldName("definition"); def != nil {
				switch def.Type() {
				case "function_definition":
					u.Functions = append(u.Functions, u.newDefinition(def, child, DefFunction))
				case "class_definition":
					u.Classes = append(u.Classes, u.newClass(def, child))
				}
			}
		default:
			// Skip the module docstring; keep assignments and bare expressions.
			if i == 0 && isDocstring(child) {
				continue
			}
			u.bodyStatements = append(u.bodyStatements, child)
		}
	}
}

func isDocstring(n *sitter.Node) bool {
	if n.Type() != "expression_statement" || n.NamedChildCount() == 0 {
		return false
	}
	return n.NamedChild(0).Type() == "string"
}

func (u *SourceUnit) newDefinition(node, outer *sitter.Node, kind DefKind) *Definition {
	span := node
	if outer != nil {
		span = outer
	}
	name := ""
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		name = u.text(nameNode)
	}
	return &Definition{
		Name:      name,
		Kind:      kind,
		StartLine: int(span.StartPoint().Row) + 1,
		EndLine:   int(span.EndPoint().Row) + 1,
		node:      node,
		outer:     outer,
		source:    u.text(span),
	}
}

func (u *SourceUnit) newClass(node, outer *sitter.Node) *Definition {
	def := u.newDefinition(node, outer, DefClass)
	body := node.ChildByFieldName("body")
	if body == nil {
		return def
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		switch child.Type() {
		case "function_definition":
			def.Methods = append(def.Methods, u.newDefinition(child, nil, DefFunction))
		case "decorated_definition":
			if inner := child.ChildByFieldName("definition"); inner != nil && inner.Type() == "function_definition" {
				def.Methods = append(def.Methods, u.newDefinition(inner, child, DefFunction))
			}
		case "expression_statement":
			if i == 0 && isDocstring(child) {
				continue
			}
			if stmt := child.NamedChild(0); stmt != nil &&
				(stmt.Type() == "assignment" || stmt.Type() == "augmented_assignment") {
				def.attributes = append(def.attributes, child)
			}
		}
	}
	return def
}

func (u *SourceUnit) collectImport(node *sitter.Node) {
	statement := u.text(node)

	if node.Type() == "import_statement" {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				name := u.text(child)
				u.Imports = append(u.Imports, ImportBinding{
					Alias: name, Origin: name, Statement: statement,
				})
			case "aliased_import":
				name := u.text(child.ChildByFieldName("name"))
				alias := u.text(child.ChildByFieldName("alias"))
				u.Imports = append(u.Imports, ImportBinding{
					Alias: alias, Origin: name, Statement: statement,
				})
			}
		}
		return
	}

	// import_from_statement
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		return
	}
	origin := u.text(moduleNode)
	relative := strings.HasPrefix(origin, ".")

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Equal(moduleNode) {
			continue
		}
		switch child.Type() {
		case "dotted_name":
			name := u.text(child)
			u.Imports = append(u.Imports, ImportBinding{
				Alias: name, Origin: origin, Symbol: name, Relative: relative, Statement: statement,
			})
		case "aliased_import":
			name := u.text(child.ChildByFieldName("name"))
			alias := u.text(child.ChildByFieldName("alias"))
			u.Imports = append(u.Imports, ImportBinding{
				Alias: alias, Origin: origin, Symbol: name, Relative: relative, Statement: statement,
			})
		case "wildcard_import":
			u.Imports = append(u.Imports, ImportBinding{
				Alias: "*", Origin: origin, Relative: relative, Statement: statement,
			})
		}
	}
}

// Function looks up a top-level function by name.
func (u *SourceUnit) Function(name string) *Definition {
	for _, f := range u.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Class looks up a top-level class by name.
func (u *SourceUnit) Class(name string) *Definition {
	for _, c := range u.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Lookup finds a top-level function or class by name.
func (u *SourceUnit) Lookup(name string) *Definition {
	if f := u.Function(name); f != nil {
		return f
	}
	return u.Class(name)
}

// DefinitionNames lists top-level definitions in source order.
func (u *SourceUnit) DefinitionNames() []string {
	defs := make([]*Definition, 0, len(u.Functions)+len(u.Classes))
	defs = append(defs, u.Functions...)
	defs = append(defs, u.Classes...)
	names := make([]string, len(defs))
	order := make([]int, len(defs))
	for i, d := range defs {
		names[i] = d.Name
		order[i] = d.StartLine
	}
	// insertion sort by start line, top-level defs are few
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && order[j-1] > order[j]; j-- {
			order[j-1], order[j] = order[j], order[j-1]
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

// LineRange reports the parser-derived [start, end] line range of an object.
// For methods, className selects the enclosing class.
func (u *SourceUnit) LineRange(objectName, className string) (start, end int, ok bool) {
	var def *Definition
	if className != "" {
		class := u.Class(className)
		if class == nil {
			return 0, 0, false
		}
		def = class.Method(objectName)
	} else {
		def = u.Lookup(objectName)
	}
	if def == nil {
		return 0, 0, false
	}
	return def.StartLine, def.EndLine, true
}

// LocalBindings returns the set of names resolvable to a definition within
// this project: top-level definitions plus import aliases whose origin module
// lives in the project tree. The heuristic over-includes rather than miss a
// local binding.
func (u *SourceUnit) LocalBindings() map[string]bool {
	locals := make(map[string]bool)
	for _, f := range u.Functions {
		locals[f.Name] = true
	}
	for _, c := range u.Classes {
		locals[c.Name] = true
	}
	for _, imp := range u.Imports {
		if imp.Alias == "*" {
			continue
		}
		if u.isLocalImport(imp) {
			locals[imp.Alias] = true
		}
	}
	return locals
}

// isLocalImport reports whether an import's origin module belongs to the
// project: relative imports always do, absolute ones when the origin's first
// segment exists as a file or directory under the project root.
func (u *SourceUnit) isLocalImport(imp ImportBinding) bool {
	if imp.Relative {
		return true
	}
	first := strings.SplitN(imp.Origin, ".", 2)[0]
	if first == "" {
		return false
	}
	if _, err := os.Stat(filepath.Join(u.ProjectDir, first+".py")); err == nil {
		return true
	}
	if info, err := os.Stat(filepath.Join(u.ProjectDir, first)); err == nil && info.IsDir() {
		return true
	}
	return false
}

// sibling parses the module an import origin points at, caching the result.
// Returns nil when the origin cannot be resolved to a project file; failures
// while tracing context are swallowed so extraction stays partial, not broken.
func (u *SourceUnit) sibling(origin string) *SourceUnit {
	if cached, ok := u.siblings[origin]; ok {
		return cached
	}

	var base string
	var rel string
	if strings.HasPrefix(origin, ".") {
		base = filepath.Dir(u.Path)
		rel = strings.TrimLeft(origin, ".")
		for i := 1; i < len(origin) && origin[i] == '.'; i++ {
			base = filepath.Dir(base)
		}
	} else {
		base = u.ProjectDir
		rel = origin
	}

	path := filepath.Join(base, filepath.FromSlash(strings.ReplaceAll(rel, ".", "/"))+".py")
	sib, err := Parse(path, u.ProjectDir)
	if err != nil {
		u.logger.Debug("could not resolve sibling module %s: %v", origin, err)
		u.siblings[origin] = nil
		return nil
	}
	u.siblings[origin] = sib
	return sib
}
