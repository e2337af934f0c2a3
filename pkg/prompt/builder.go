package prompt

import (
	"fmt"
	"sort"
	"strings"

	"testforge/pkg/extract"
	"testforge/pkg/llm"
)

// UnknownObjectError indicates a prompt was requested for an object the
// module does not define.
type UnknownObjectError struct {
	Module string
	Object string
	Method string
}

func (e *UnknownObjectError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("no method called %s in class %s of module %s", e.Method, e.Object, e.Module)
	}
	return fmt.Sprintf("no function or class called %s in module %s", e.Object, e.Module)
}

// Target identifies one resolved generation target.
type Target struct {
	ObjectName string // function name, or method name for class targets
	ClassName  string // empty for free functions
	IsMethod   bool
}

// infoSheet assembles the numbered supporting-context block. Numbering is
// contiguous and empty sections are omitted entirely rather than emitted with
// empty content.
type infoSheet struct {
	b strings.Builder
	n int
}

func (s *infoSheet) add(format string, args ...any) {
	s.n++
	fmt.Fprintf(&s.b, "%d. ", s.n)
	fmt.Fprintf(&s.b, format, args...)
	s.b.WriteString("\n")
}

func (s *infoSheet) addNonEmpty(content, format string, args ...any) {
	if strings.TrimSpace(content) == "" {
		return
	}
	s.add(format, args...)
}

func (s *infoSheet) String() string {
	return strings.TrimRight(s.b.String(), "\n")
}

// Build produces the initial two-message conversation for a target. For class
// targets methodName selects the method under test and is required.
func Build(unit *extract.SourceUnit, adapter extract.Adapter, targetName, methodName string) (llm.Conversation, Target, error) {
	def := unit.Lookup(targetName)
	if def == nil {
		return nil, Target{}, &UnknownObjectError{Module: unit.ModuleName, Object: targetName}
	}

	if def.Kind == extract.DefClass {
		if methodName == "" {
			return nil, Target{}, &UnknownObjectError{Module: unit.ModuleName, Object: targetName, Method: methodName}
		}
		method := def.Method(methodName)
		if method == nil {
			return nil, Target{}, &UnknownObjectError{Module: unit.ModuleName, Object: targetName, Method: methodName}
		}
		conv := buildConversation(unit, adapter, method, def)
		return conv, Target{ObjectName: methodName, ClassName: targetName, IsMethod: true}, nil
	}

	conv := buildConversation(unit, adapter, def, nil)
	return conv, Target{ObjectName: targetName}, nil
}

//nolint:cyclop // Section-by-section sheet assembly reads best linearly
func buildConversation(unit *extract.SourceUnit, adapter extract.Adapter, def, class *extract.Definition) llm.Conversation {
	language := adapter.Language()
	objType := "Function"
	objDesc := "Function Definition"
	className := ""
	if class != nil {
		className = class.Name
		objType = "Classmethod"
		objDesc = fmt.Sprintf("Classmethod Definition of a class called: %s", className)
	}

	sheet := &infoSheet{}
	if class != nil {
		sheet.add("%s is defined inside the %s class of the module called: %s", def.Name, className, unit.ModuleName)
	} else {
		sheet.add("%s is defined in the module called: %s", objDesc, unit.ModuleName)
	}

	// Class-only sections: constructor and attributes.
	if class != nil {
		if init := class.Init(); init != nil && def.Name != "__init__" {
			sheet.add("Class __init__ definition of the %s class:\n%s", className, init.Source())
		}
		attrs := unit.ClassAttributes(class)
		sheet.addNonEmpty(attrs, "%s class attributes:%s", className, attrs)
	}

	imports := unit.ImportStatements()
	sheet.addNonEmpty(imports, "Following imports were made inside the %s module:%s", unit.ModuleName, imports)

	constants := unit.ImportedConstants()
	sheet.addNonEmpty(constants, "Following constants were imported in the %s module:%s", unit.ModuleName, constants)

	body := unit.ModuleBodyContext()
	if !body.Empty() {
		names := make([]string, 0, len(body.InstanceTypes))
		for name := range body.InstanceTypes {
			names = append(names, name)
		}
		sort.Strings(names)
		var annotations strings.Builder
		for _, name := range names {
			fmt.Fprintf(&annotations, "\n%s: %s", name, body.InstanceTypes[name])
		}
		sheet.add("Following variables were declared in the %s module body:%s%s",
			unit.ModuleName, body.Variables, annotations.String())
	}

	slice := unit.CallSlice(def, class != nil, className)
	localDefs := renderCallTargets(unit, slice.Calls, className)
	sheet.addNonEmpty(localDefs, "Local definitions:%s", localDefs)

	system := SystemPrompt(language, adapter.Framework(), objDesc)
	user := fmt.Sprintf("%s Definition:\n%s\n\nINFO sheet:\n%s", objType, def.Source(), sheet.String())

	return llm.Conversation{
		llm.SystemMessage(system),
		llm.UserMessage(user),
	}
}

// renderCallTargets resolves every local call to its source, constructor
// included for class instantiations. Unresolvable calls are omitted; the
// target class's own constructor is skipped to avoid duplicating the sheet's
// __init__ section.
func renderCallTargets(unit *extract.SourceUnit, calls []string, ownClass string) string {
	var b strings.Builder
	for _, call := range calls {
		target, ok := unit.ResolveCallTarget(call)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\nDefinition of %s:\n%s", target.Name, target.Source)
		if target.Init != "" && target.Init != target.Source && !strings.HasPrefix(call, ownClass+".") {
			fmt.Fprintf(&b, "\nAssociated class __init__ definition:\n%s", target.Init)
		}
	}
	return b.String()
}
