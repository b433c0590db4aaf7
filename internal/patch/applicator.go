// Package patch installs the splash suppression intercepts on resolved
// targets. Every install is isolated: a failing or panicking install is
// recorded in the Report and never stops the others.
package patch

import (
	"fmt"
	"log/slog"

	"splashguard/internal/errors"
	"splashguard/internal/hook"
	"splashguard/internal/introspect"
	"splashguard/internal/symtab"
)

// LifecycleEntryPoint is the method the lifecycle suppression hooks.
const LifecycleEntryPoint = "onCreate"

// Finisher is implemented by lifecycle objects that can be terminated.
type Finisher interface {
	Finish()
}

// Applicator composes intercept requests for a resolved table.
type Applicator struct {
	installer hook.Installer
	provider  introspect.Provider
	logger    *slog.Logger
}

// NewApplicator creates an applicator. The provider is used to enumerate
// methods for the broad-surface patch.
func NewApplicator(installer hook.Installer, provider introspect.Provider, logger *slog.Logger) *Applicator {
	return &Applicator{installer: installer, provider: provider, logger: logger}
}

// Apply installs, in order: the constant override on IS_VALID_METHOD, the
// broad-surface patch on its owner if the override could not be engaged,
// and the lifecycle suppression on SPLASH_ACTIVITY if that key resolved.
func (a *Applicator) Apply(table *symtab.ResolvedTable) Report {
	var rep Report

	owner := ""
	if cls, ok := table.Lookup(symtab.SplashClass); ok {
		owner = cls.Owner
	}

	if m, ok := table.Lookup(symtab.IsValidMethod); ok {
		owner = m.Owner
		a.constantOverride(&rep, introspect.MethodRef{Owner: m.Owner, Name: m.Member, Descriptor: m.Descriptor})
	}

	if !rep.Engaged(ConstantOverride) && owner != "" {
		rep.Merge(a.ApplyBroadSurface(owner))
	}

	if act, ok := table.Lookup(symtab.SplashActivity); ok {
		a.lifecycleSuppression(&rep, act.Owner)
	}

	a.logger.Info("Applied patches",
		"integration", table.IntegrationID(),
		"installed", len(rep.Installed),
		"failures", len(rep.Failures),
	)
	return rep
}

// ApplyDirect installs the constant override on owner#member without any
// structural search, then the broad-surface patch on owner if the override
// could not be engaged.
func (a *Applicator) ApplyDirect(owner, member string) Report {
	var rep Report
	a.constantOverride(&rep, introspect.MethodRef{Owner: owner, Name: member})
	if !rep.Engaged(ConstantOverride) {
		rep.Merge(a.ApplyBroadSurface(owner))
	}
	return rep
}

// ApplyBroadSurface replaces the result of every zero-parameter boolean
// method declared on owner with false.
func (a *Applicator) ApplyBroadSurface(owner string) Report {
	var rep Report

	var targets []introspect.MethodRef
	for _, m := range a.provider.ListDeclaredMethods(owner) {
		if m.ReturnType == "boolean" && len(m.ParamTypes) == 0 {
			targets = append(targets, m.Ref())
		}
	}
	if len(targets) == 0 {
		a.fail(&rep, BroadSurface, owner, errors.New(errors.MethodNotFound, "no zero-parameter boolean methods on "+owner, nil))
		return rep
	}

	for _, ref := range targets {
		ref := ref
		a.guard(&rep, BroadSurface, ref.String(), func() error {
			return a.installer.InstallBodyReplacement(ref, hook.Returning(false))
		})
	}
	return rep
}

func (a *Applicator) constantOverride(rep *Report, ref introspect.MethodRef) {
	a.guard(rep, ConstantOverride, ref.String(), func() error {
		return a.installer.InstallResultOverride(ref, false)
	})
}

func (a *Applicator) lifecycleSuppression(rep *Report, owner string) {
	ref := introspect.MethodRef{Owner: owner, Name: LifecycleEntryPoint}
	a.guard(rep, LifecycleSuppression, ref.String(), func() error {
		return a.installer.InstallPreInvocationHook(ref, a.finishAndSuppress)
	})
}

// finishAndSuppress terminates the receiver and suppresses the entry point.
// It runs on whatever goroutine the host invokes the entry point from.
func (a *Applicator) finishAndSuppress(call *hook.Call) {
	if f, ok := call.Receiver.(Finisher); ok {
		f.Finish()
	} else {
		a.logger.Warn("Lifecycle receiver cannot be finished",
			"target", call.Target.String(),
			"receiver", fmt.Sprintf("%T", call.Receiver),
		)
	}
	call.SetResult(nil)
}

// guard runs one install, converting an error or a panic into a recorded
// failure.
func (a *Applicator) guard(rep *Report, c Category, target string, install func() error) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			a.fail(rep, c, target, errors.New(errors.InternalError, fmt.Sprintf("install panicked: %v", p), nil))
			ok = false
		}
	}()

	if err := install(); err != nil {
		a.fail(rep, c, target, err)
		return false
	}
	rep.Installed = append(rep.Installed, Installation{Category: c, Target: target})
	a.logger.Debug("Installed patch", "category", string(c), "target", target)
	return true
}

func (a *Applicator) fail(rep *Report, c Category, target string, cause error) {
	err := errors.NewPatchInstallFailure(string(c), target, cause)
	rep.Failures = append(rep.Failures, err)
	a.logger.Error("Patch install failed",
		"category", string(c),
		"target", target,
		"error", err.Error(),
	)
}
