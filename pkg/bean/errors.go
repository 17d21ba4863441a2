package bean

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateBean       = errors.New("duplicate bean")
	ErrMissingDependency   = errors.New("missing dependency")
	ErrCyclicDependency    = errors.New("cyclic dependency")
	ErrBuildFailed         = errors.New("bean construction failed")
	ErrInvalidRegistration = errors.New("invalid bean registration")
	ErrNotFound            = errors.New("bean not found")
)

// DuplicateBeanError is returned when the same type is registered twice.
type DuplicateBeanError struct {
	Bean string
}

func (e *DuplicateBeanError) Error() string {
	return fmt.Sprintf("bean %s is registered more than once", e.Bean)
}
func (e *DuplicateBeanError) Is(target error) bool { return target == ErrDuplicateBean }

// MissingDependencyError names the bean and the dependency nobody provides.
type MissingDependencyError struct {
	Bean       string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("bean %s depends on %s, which is neither provided nor registered", e.Bean, e.Dependency)
}
func (e *MissingDependencyError) Is(target error) bool { return target == ErrMissingDependency }

// CyclicDependencyError lists the members of a dependency cycle. The first
// member is repeated at the end to close the loop.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Cycle, " -> "))
}
func (e *CyclicDependencyError) Is(target error) bool { return target == ErrCyclicDependency }

// BuildError wraps a constructor failure with the chain of dependents that
// were waiting on it.
type BuildError struct {
	Bean  string
	Chain []string
	Err   error
}

func (e *BuildError) Error() string {
	if len(e.Chain) == 0 {
		return fmt.Sprintf("failed to build bean %s: %v", e.Bean, e.Err)
	}
	return fmt.Sprintf("failed to build bean %s (required by %s): %v", e.Bean, strings.Join(e.Chain, " <- "), e.Err)
}
func (e *BuildError) Unwrap() error        { return e.Err }
func (e *BuildError) Is(target error) bool { return target == ErrBuildFailed }

// NotFoundError is returned by lookups on a resolved context.
type NotFoundError struct {
	Bean string
}

func (e *NotFoundError) Error() string        { return fmt.Sprintf("bean %s not found in context", e.Bean) }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
