// Package hook defines declarative intercept requests and an in-process
// registry that records and dispatches them.
package hook

import (
	"splashguard/internal/introspect"
)

// Kind is the kind of an installed intercept.
type Kind string

const (
	// ResultOverride makes a method return a constant without running its body
	ResultOverride Kind = "result-override"
	// BodyReplacement runs a replacement instead of the method body
	BodyReplacement Kind = "body-replacement"
	// PreInvocation runs before the method body and may suppress it
	PreInvocation Kind = "pre-invocation"
)

// Call is one intercepted invocation.
type Call struct {
	Target   introspect.MethodRef
	Receiver any
	Args     []any

	result    any
	hasResult bool
}

// SetResult sets the call's result. When a pre-invocation hook sets a
// result the original body is not run.
func (c *Call) SetResult(v any) {
	c.result = v
	c.hasResult = true
}

// Result returns the result set by a hook, if any.
func (c *Call) Result() (any, bool) {
	return c.result, c.hasResult
}

// Body replaces a method body.
type Body func(call *Call) any

// PreHook runs before a method body.
type PreHook func(call *Call)

// Installer installs intercepts in the host runtime. A target whose
// Descriptor is empty matches every overload with that name.
type Installer interface {
	InstallResultOverride(target introspect.MethodRef, value any) error
	InstallBodyReplacement(target introspect.MethodRef, body Body) error
	InstallPreInvocationHook(target introspect.MethodRef, hook PreHook) error
}

// Returning is a Body that always returns v.
func Returning(v any) Body {
	return func(*Call) any { return v }
}
