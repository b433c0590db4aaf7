package patch

import (
	"splashguard/internal/errors"
)

// Category is one of the patch categories the applicator knows.
type Category string

const (
	ConstantOverride     Category = "constant-override"
	BroadSurface         Category = "broad-surface"
	LifecycleSuppression Category = "lifecycle-suppression"
)

// Installation is one intercept that was installed.
type Installation struct {
	Category Category `json:"category"`
	Target   string   `json:"target"`
}

// Report lists what a patch run installed and what it could not.
type Report struct {
	Installed []Installation  `json:"installed,omitempty"`
	Failures  []*errors.Error `json:"failures,omitempty"`
}

// Engaged reports whether at least one intercept of category c was installed.
func (r Report) Engaged(c Category) bool {
	for _, in := range r.Installed {
		if in.Category == c {
			return true
		}
	}
	return false
}

// Empty reports whether nothing was installed.
func (r Report) Empty() bool {
	return len(r.Installed) == 0
}

// Targets returns the installed targets of category c in install order.
func (r Report) Targets(c Category) []string {
	var out []string
	for _, in := range r.Installed {
		if in.Category == c {
			out = append(out, in.Target)
		}
	}
	return out
}

// Merge appends o to r.
func (r *Report) Merge(o Report) {
	r.Installed = append(r.Installed, o.Installed...)
	r.Failures = append(r.Failures, o.Failures...)
}
