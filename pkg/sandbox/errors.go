package sandbox

import "fmt"

// ImageNotFoundError means the configured container image is not present on
// the host and must be pulled before a run.
type ImageNotFoundError struct {
	Image string
}

func (e *ImageNotFoundError) Error() string {
	return fmt.Sprintf("container image %q not found, pull it first", e.Image)
}

// StartupError means the container could not be created or started.
type StartupError struct {
	Output string
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("failed to start container: %v\n%s", e.Err, e.Output)
}

func (e *StartupError) Unwrap() error { return e.Err }

// RequirementError means the image runs but is missing a runtime requirement:
// too old an interpreter or no coverage support.
type RequirementError struct {
	Requirement string
	Detail      string
}

func (e *RequirementError) Error() string {
	return fmt.Sprintf("container does not satisfy requirement %q: %s", e.Requirement, e.Detail)
}

// ModuleNotFoundError means the module under test imports a dependency the
// image does not provide. Missing names the first unimportable module.
type ModuleNotFoundError struct {
	Module  string // module under test
	Missing string // dependency that failed to import, may equal Module
	Detail  string
}

func (e *ModuleNotFoundError) Error() string {
	if e.Missing != "" && e.Missing != e.Module {
		return fmt.Sprintf("module %q cannot be imported: missing dependency %q", e.Module, e.Missing)
	}
	return fmt.Sprintf("module %q cannot be imported inside the container", e.Module)
}

// InfrastructureError means the harness itself failed: the bootstrap script
// crashed or its report could not be retrieved. This is distinct from a
// candidate that fails to compile or fails its tests, which both produce a
// normal execution report.
type InfrastructureError struct {
	Stage  string
	Output string
	Err    error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("sandbox %s failed: %v\n%s", e.Stage, e.Err, e.Output)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }
