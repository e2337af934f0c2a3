package extract

import (
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// CallSlice is the set of locally-resolvable call targets reachable from one
// definition's body, with instance-to-class rewriting applied. Each call to
// (*SourceUnit).CallSlice computes a fresh slice; nothing is shared between
// targets, so results cannot leak analysis state across calls.
type CallSlice struct {
	// Calls holds resolved dotted call paths, deduplicated and sorted.
	Calls []string
	// Instances maps variable names to the local class they were constructed
	// from within the analyzed body.
	Instances map[string]string
}

// CallSlice analyzes the target definition's body. When isMethod is set, the
// leading self/cls parameter is rewritten to className so method-to-method
// calls resolve to ClassName.method paths.
func (u *SourceUnit) CallSlice(target *Definition, isMethod bool, className string) CallSlice {
	// Module-level instances form the enclosing environment; bindings found
	// inside the body shadow them.
	instances := u.moduleInstances()

	var rawCalls []string
	u.walkCalls(target.node, instances, &rawCalls)

	selfName := ""
	if isMethod {
		selfName = u.firstParameterName(target)
	}

	locals := u.LocalBindings()
	seen := make(map[string]bool)
	var resolved []string
	for _, call := range rawCalls {
		segments := strings.Split(call, ".")
		if class, ok := instances[segments[0]]; ok {
			segments[0] = class
		} else if isMethod && selfName != "" && segments[0] == selfName {
			segments[0] = className
		}
		rewritten := strings.Join(segments, ".")

		if !locals[segments[0]] {
			continue
		}
		if !seen[rewritten] {
			seen[rewritten] = true
			resolved = append(resolved, rewritten)
		}
	}
	sort.Strings(resolved)

	return CallSlice{Calls: resolved, Instances: instances}
}

// moduleInstances collects module-body "name = ClassName(...)" bindings where
// ClassName resolves to a local class.
func (u *SourceUnit) moduleInstances() map[string]string {
	instances := make(map[string]string)
	for _, stmt := range u.bodyStatements {
		u.collectInstanceBindings(stmt, instances)
	}
	return instances
}

// collectInstanceBindings records assignment targets whose right-hand side is
// a call to a local class, into instances (later bindings win).
func (u *SourceUnit) collectInstanceBindings(node *sitter.Node, instances map[string]string) {
	if node == nil {
		return
	}
	if node.Type() == "assignment" {
		left := node.ChildByFieldName("left")
		right := node.ChildByFieldName("right")
		if left != nil && right != nil && left.Type() == "identifier" && right.Type() == "call" {
			callee := u.calleePath(right.ChildByFieldName("function"))
			if callee != "" && u.resolvesToClass(callee) {
				instances[u.text(left)] = callee
			}
		}
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		u.collectInstanceBindings(node.NamedChild(i), instances)
	}
}

// walkCalls gathers every call expression's dotted callee path under node, and
// instance bindings encountered along the way (local shadows outer).
func (u *SourceUnit) walkCalls(node *sitter.Node, instances map[string]string, calls *[]string) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "call":
		if callee := u.calleePath(node.ChildByFieldName("function")); callee != "" {
			*calls = append(*calls, callee)
		}
	case "assignment":
		left := node.ChildByFieldName("left")
		right := node.ChildByFieldName("right")
		if left != nil && right != nil && left.Type() == "identifier" && right.Type() == "call" {
			callee := u.calleePath(right.ChildByFieldName("function"))
			if callee != "" && u.resolvesToClass(callee) {
				instances[u.text(left)] = callee
			}
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		u.walkCalls(node.NamedChild(i), instances, calls)
	}
}

// calleePath renders an identifier or attribute chain as a dotted path.
// Subscripted or computed callees yield "" and are skipped.
func (u *SourceUnit) calleePath(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	switch node.Type() {
	case "identifier":
		return u.text(node)
	case "attribute":
		base := u.calleePath(node.ChildByFieldName("object"))
		if base == "" {
			return ""
		}
		attr := node.ChildByFieldName("attribute")
		if attr == nil {
			return ""
		}
		return base + "." + u.text(attr)
	default:
		return ""
	}
}

// resolvesToClass reports whether a dotted callee names a class defined in
// this module or in a resolvable sibling module.
func (u *SourceUnit) resolvesToClass(callee string) bool {
	segments := strings.Split(callee, ".")

	if len(segments) == 1 {
		if u.Class(segments[0]) != nil {
			return true
		}
		// Imported symbol: from mod import Thing
		for _, imp := range u.Imports {
			if imp.Alias == segments[0] && imp.Symbol != "" && u.isLocalImport(imp) {
				if sib := u.sibling(imp.Origin); sib != nil {
					return sib.Class(imp.Symbol) != nil
				}
				// Unresolvable sibling: over-include uppercase names.
				return isCapitalized(segments[0])
			}
		}
		return false
	}

	// mod.Thing style: resolve through the imported module.
	for _, imp := range u.Imports {
		if imp.Alias == segments[0] && imp.Symbol == "" && u.isLocalImport(imp) {
			if sib := u.sibling(imp.Origin); sib != nil {
				return sib.Class(segments[len(segments)-1]) != nil
			}
			return isCapitalized(segments[len(segments)-1])
		}
	}
	return false
}

func isCapitalized(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

// firstParameterName returns the first positional parameter of a method
// (conventionally self or cls), or "".
func (u *SourceUnit) firstParameterName(def *Definition) string {
	params := def.node.ChildByFieldName("parameters")
	if params == nil {
		return ""
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier":
			return u.text(p)
		case "typed_parameter", "default_parameter", "typed_default_parameter":
			if p.NamedChildCount() > 0 && p.NamedChild(0).Type() == "identifier" {
				return u.text(p.NamedChild(0))
			}
		}
		break
	}
	return ""
}
