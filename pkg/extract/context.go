package extract

import (
	"fmt"
	"strings"
)

// BodyContext carries the verbatim module-body statements a prompt should
// include, plus inferred types for variables bound to local class
// instantiations (the model cannot infer the type of `helper_class()` from
// the call text alone).
type BodyContext struct {
	Variables     string
	InstanceTypes map[string]string
}

// Empty reports whether there is nothing to show.
func (b BodyContext) Empty() bool {
	return strings.TrimSpace(b.Variables) == "" && len(b.InstanceTypes) == 0
}

// ModuleBodyContext returns all module-body statements that are not imports
// or definitions: constant and variable assignments and bare expressions,
// excluding the docstring, verbatim.
func (u *SourceUnit) ModuleBodyContext() BodyContext {
	var b strings.Builder
	for _, stmt := range u.bodyStatements {
		b.WriteString("\n")
		b.WriteString(u.text(stmt))
	}
	return BodyContext{
		Variables:     b.String(),
		InstanceTypes: u.moduleInstances(),
	}
}

// ClassAttributes renders a class's body-level assignments verbatim.
func (u *SourceUnit) ClassAttributes(class *Definition) string {
	var b strings.Builder
	for _, attr := range class.attributes {
		b.WriteString("\n")
		b.WriteString(u.text(attr))
	}
	return b.String()
}

// ImportStatements renders every import statement verbatim, one per line.
func (u *SourceUnit) ImportStatements() string {
	var b strings.Builder
	seen := make(map[string]bool)
	for _, imp := range u.Imports {
		if seen[imp.Statement] {
			continue
		}
		seen[imp.Statement] = true
		b.WriteString("\n")
		b.WriteString(imp.Statement)
	}
	return b.String()
}

// ImportedConstants resolves from-imports of local modules down to simple
// literal assignments in the origin module and renders them as `NAME = value`
// lines. Unresolvable origins are skipped.
func (u *SourceUnit) ImportedConstants() string {
	var b strings.Builder
	for _, imp := range u.Imports {
		if imp.Symbol == "" || !u.isLocalImport(imp) {
			continue
		}
		sib := u.sibling(imp.Origin)
		if sib == nil {
			continue
		}
		if value, ok := sib.literalAssignment(imp.Symbol); ok {
			fmt.Fprintf(&b, "\n%s = %s", imp.Alias, value)
		}
	}
	return b.String()
}

// literalAssignment finds a top-level `name = <literal>` and returns the
// literal source text.
func (u *SourceUnit) literalAssignment(name string) (string, bool) {
	for _, stmt := range u.bodyStatements {
		if stmt.Type() != "expression_statement" || stmt.NamedChildCount() == 0 {
			continue
		}
		assign := stmt.NamedChild(0)
		if assign.Type() != "assignment" {
			continue
		}
		left := assign.ChildByFieldName("left")
		right := assign.ChildByFieldName("right")
		if left == nil || right == nil || left.Type() != "identifier" || u.text(left) != name {
			continue
		}
		switch right.Type() {
		case "integer", "float", "string", "true", "false", "none", "list", "tuple", "dictionary", "set":
			return u.text(right), true
		}
	}
	return "", false
}

// CallTarget is the source context for one locally-resolved call.
type CallTarget struct {
	Name   string
	Source string
	Init   string // constructor source when the call instantiates a class
}

// ResolveCallTarget locates the definition a dotted call path refers to and
// returns its source. Resolution failures return ok=false and the call is
// simply omitted from context; partial context is acceptable, a crashed
// extractor is not.
func (u *SourceUnit) ResolveCallTarget(call string) (CallTarget, bool) {
	segments := strings.Split(call, ".")

	if len(segments) == 1 {
		name := segments[0]
		if f := u.Function(name); f != nil {
			return CallTarget{Name: call, Source: f.Source()}, true
		}
		if c := u.Class(name); c != nil {
			return classTarget(call, c), true
		}
		// Imported symbol from a sibling module.
		for _, imp := range u.Imports {
			if imp.Alias != name || imp.Symbol == "" || !u.isLocalImport(imp) {
				continue
			}
			sib := u.sibling(imp.Origin)
			if sib == nil {
				return CallTarget{}, false
			}
			if f := sib.Function(imp.Symbol); f != nil {
				return CallTarget{Name: call, Source: f.Source()}, true
			}
			if c := sib.Class(imp.Symbol); c != nil {
				return classTarget(call, c), true
			}
		}
		return CallTarget{}, false
	}

	// ClassName.method within this module.
	if c := u.Class(segments[0]); c != nil {
		return methodTarget(call, c, segments[1:])
	}

	// mod.symbol through an imported sibling module.
	for _, imp := range u.Imports {
		if imp.Alias != segments[0] || imp.Symbol != "" || !u.isLocalImport(imp) {
			continue
		}
		sib := u.sibling(imp.Origin)
		if sib == nil {
			return CallTarget{}, false
		}
		rest := segments[1:]
		if f := sib.Function(rest[0]); f != nil && len(rest) == 1 {
			return CallTarget{Name: call, Source: f.Source()}, true
		}
		if c := sib.Class(rest[0]); c != nil {
			if len(rest) == 1 {
				return classTarget(call, c), true
			}
			return methodTarget(call, c, rest[1:])
		}
	}
	return CallTarget{}, false
}

func classTarget(call string, class *Definition) CallTarget {
	target := CallTarget{Name: call, Source: class.Source()}
	if init := class.Init(); init != nil {
		// Instantiation context only needs the constructor, not the whole class.
		target.Source = init.Source()
		target.Init = init.Source()
	}
	return target
}

func methodTarget(call string, class *Definition, rest []string) (CallTarget, bool) {
	method := class.Method(rest[len(rest)-1])
	if method == nil {
		return CallTarget{}, false
	}
	target := CallTarget{Name: call, Source: method.Source()}
	if init := class.Init(); init != nil && method.Name != "__init__" {
		target.Init = init.Source()
	}
	return target, true
}
