package hook

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"splashguard/internal/errors"
	"splashguard/internal/introspect"
)

type entry struct {
	override    any
	hasOverride bool
	body        Body
	pre         PreHook
}

// Registry is an in-process Installer. Each target holds at most one
// intercept of each kind; installing again replaces the previous one, so
// repeated installs are idempotent. Invoke may be called from any goroutine.
type Registry struct {
	mu       sync.RWMutex
	entries  map[introspect.MethodRef]*entry
	log      []Intercept
	provider introspect.Provider
	logger   *slog.Logger
}

var _ Installer = (*Registry)(nil)

// NewRegistry creates a registry. When provider is non-nil every target is
// checked against it and unknown types or methods are rejected.
func NewRegistry(provider introspect.Provider, logger *slog.Logger) *Registry {
	return &Registry{
		entries:  map[introspect.MethodRef]*entry{},
		provider: provider,
		logger:   logger,
	}
}

// InstallResultOverride implements Installer.
func (r *Registry) InstallResultOverride(target introspect.MethodRef, value any) error {
	return r.install(target, ResultOverride, fmt.Sprint(value), func(e *entry) {
		e.override = value
		e.hasOverride = true
	})
}

// InstallBodyReplacement implements Installer.
func (r *Registry) InstallBodyReplacement(target introspect.MethodRef, body Body) error {
	if body == nil {
		return errors.New(errors.PatchInstallFailure, "nil body for "+target.String(), nil)
	}
	return r.install(target, BodyReplacement, "", func(e *entry) { e.body = body })
}

// InstallPreInvocationHook implements Installer.
func (r *Registry) InstallPreInvocationHook(target introspect.MethodRef, hook PreHook) error {
	if hook == nil {
		return errors.New(errors.PatchInstallFailure, "nil hook for "+target.String(), nil)
	}
	return r.install(target, PreInvocation, "", func(e *entry) { e.pre = hook })
}

func (r *Registry) install(target introspect.MethodRef, kind Kind, value string, set func(*entry)) error {
	if err := r.validate(target); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[target]
	if !ok {
		e = &entry{}
		r.entries[target] = e
	}
	set(e)

	ic := Intercept{Kind: kind, Target: target.String(), Owner: target.Owner, Method: target.Name, Descriptor: target.Descriptor, Value: value}
	replaced := false
	for i := range r.log {
		if r.log[i].Kind == kind && r.log[i].Target == ic.Target {
			r.log[i] = ic
			replaced = true
			break
		}
	}
	if !replaced {
		r.log = append(r.log, ic)
	}

	r.logger.Debug("Installed intercept",
		"kind", string(kind),
		"target", target.String(),
		"replaced", replaced,
	)
	return nil
}

func (r *Registry) validate(target introspect.MethodRef) error {
	if target.Owner == "" || target.Name == "" {
		return errors.New(errors.PatchInstallFailure, "incomplete target "+target.String(), nil)
	}
	if r.provider == nil {
		return nil
	}
	if _, ok := r.provider.LookupType(target.Owner); !ok {
		return errors.New(errors.TypeNotFound, "type "+target.Owner+" is not loaded", nil)
	}
	for _, m := range r.provider.ListDeclaredMethods(target.Owner) {
		if matches(target, m.Ref()) {
			return nil
		}
	}
	return errors.New(errors.MethodNotFound, "method "+target.String()+" is not declared", nil)
}

// matches reports whether an installed target covers ref.
func matches(target, ref introspect.MethodRef) bool {
	if target.Owner != ref.Owner || target.Name != ref.Name {
		return false
	}
	return target.Descriptor == "" || target.Descriptor == ref.Descriptor
}

// lookup returns the handlers covering ref. An exact target wins over a
// wildcard one for each kind.
func (r *Registry) lookup(ref introspect.MethodRef) entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out entry
	wildcard := ref
	wildcard.Descriptor = ""
	for _, key := range []introspect.MethodRef{wildcard, ref} {
		e, ok := r.entries[key]
		if !ok {
			continue
		}
		if e.hasOverride {
			out.override, out.hasOverride = e.override, true
		}
		if e.body != nil {
			out.body = e.body
		}
		if e.pre != nil {
			out.pre = e.pre
		}
	}
	return out
}

// Invoke dispatches a call to ref through the installed intercepts. The
// pre-invocation hook runs first and may set a result, which ends the call.
// Then a result override, then a body replacement, then original.
// A nil original returns nil.
func (r *Registry) Invoke(ref introspect.MethodRef, receiver any, args []any, original Body) any {
	e := r.lookup(ref)
	call := &Call{Target: ref, Receiver: receiver, Args: args}

	if e.pre != nil {
		e.pre(call)
		if v, ok := call.Result(); ok {
			return v
		}
	}
	if e.hasOverride {
		return e.override
	}
	if e.body != nil {
		return e.body(call)
	}
	if original == nil {
		return nil
	}
	return original(call)
}

// Intercepted reports whether any intercept covers ref.
func (r *Registry) Intercepted(ref introspect.MethodRef) bool {
	e := r.lookup(ref)
	return e.hasOverride || e.body != nil || e.pre != nil
}

// Plan returns the installed intercepts sorted by target then kind.
func (r *Registry) Plan(integrationID string) Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := append([]Intercept(nil), r.log...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		return out[i].Kind < out[j].Kind
	})
	return Plan{Integration: integrationID, Intercepts: out}
}

// Len returns the number of installed intercepts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.log)
}
