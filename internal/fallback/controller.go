// Package fallback sequences resolution and patching for one integration,
// descending through progressively weaker tiers instead of failing.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"splashguard/internal/errors"
	"splashguard/internal/hook"
	"splashguard/internal/introspect"
	"splashguard/internal/patch"
	"splashguard/internal/query"
	"splashguard/internal/rescache"
	"splashguard/internal/symtab"
)

// Host is the integration-identity gate supplied by the host runtime.
type Host interface {
	PackageName() string
}

// StaticHost is a Host with a fixed package name.
type StaticHost string

// PackageName implements Host.
func (h StaticHost) PackageName() string { return string(h) }

// Integration describes one target application.
type Integration struct {
	// ID keys the resolution cache.
	ID string
	// PackageName must equal Host.PackageName for the controller to run.
	PackageName string
	Version     symtab.VersionTag
	Keys        []symtab.KeySpec
	// DirectOwner and DirectMember are the unobfuscated names tried by the
	// direct tier.
	DirectOwner  string
	DirectMember string
	// PatternPrefixes are tried in order by the pattern tier.
	PatternPrefixes []string
	// PatternTypeName is the name fragment that locates a type under a prefix.
	PatternTypeName string
}

// Option customizes a Controller.
type Option func(*Controller)

// WithSearcher replaces the fingerprint searcher used by the builder.
func WithSearcher(s symtab.Searcher) Option {
	return func(c *Controller) { c.searcher = s }
}

// Controller runs the fallback state machine for one integration.
type Controller struct {
	integration Integration
	host        Host
	provider    introspect.Provider
	matcher     *query.Matcher
	searcher    symtab.Searcher
	cache       *rescache.Cache
	applicator  *patch.Applicator
	logger      *slog.Logger
}

// NewController wires a controller. The cache is shared across
// controllers; the installer receives every intercept.
func NewController(integ Integration, host Host, provider introspect.Provider, cache *rescache.Cache, installer hook.Installer, logger *slog.Logger, opts ...Option) *Controller {
	matcher := query.NewMatcher(provider, logger)
	c := &Controller{
		integration: integ,
		host:        host,
		provider:    provider,
		matcher:     matcher,
		searcher:    matcher,
		cache:       cache,
		applicator:  patch.NewApplicator(installer, provider, logger),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnModuleLoad runs the state machine to completion. It never panics and
// never returns an error; the Outcome records what happened.
func (c *Controller) OnModuleLoad(ctx context.Context) (out Outcome) {
	start := time.Now()
	out = Outcome{Integration: c.integration.ID}
	out.enter(StateStart)

	defer func() {
		if p := recover(); p != nil {
			err := errors.New(errors.InternalError, fmt.Sprintf("module load panicked: %v", p), nil)
			c.logger.Error("Module load aborted", "error", err.Error())
			out.degrade(err)
		}
		out.enter(StateDone)
		out.Duration = time.Since(start)
		c.logger.Info("Module load finished",
			"integration", c.integration.ID,
			"path", out.Path(),
			"installed", len(out.Report.Installed),
			"failures", len(out.Report.Failures),
			"duration_ms", out.Duration.Milliseconds(),
		)
	}()

	if got := c.host.PackageName(); got != c.integration.PackageName {
		out.Mismatch = true
		c.logger.Debug("Integration mismatch, skipping",
			"code", string(errors.IntegrationMismatch),
			"expected", c.integration.PackageName,
			"package", got,
		)
		return out
	}

	out.enter(StateResolving)
	table, err := c.resolve(&out)
	if err == nil {
		out.Table = table
		out.enter(StatePatching)
		out.Report = c.applicator.Apply(table)
		return out
	}
	out.degrade(err)
	c.logger.Warn("Fingerprint resolution failed, degrading to direct tier",
		"integration", c.integration.ID,
		"error", err.Error(),
	)

	if cancelled(ctx, &out, c.logger) {
		return out
	}

	out.enter(StateDirect)
	out.Tiers = append(out.Tiers, TierDirectHardcoded)
	if _, ok := c.provider.LookupType(c.integration.DirectOwner); ok {
		c.logger.Info("Applying direct patches", "owner", c.integration.DirectOwner, "member", c.integration.DirectMember)
		out.Report = c.applicator.ApplyDirect(c.integration.DirectOwner, c.integration.DirectMember)
		return out
	}
	notFound := errors.New(errors.TypeNotFound, "hardcoded type "+c.integration.DirectOwner+" is not loaded", nil)
	out.degrade(notFound)
	c.logger.Warn("Direct tier failed, degrading to pattern tier", "error", notFound.Error())

	if cancelled(ctx, &out, c.logger) {
		return out
	}

	out.enter(StatePattern)
	out.Tiers = append(out.Tiers, TierPatternEnumerated)
	c.pattern(&out)
	return out
}

// resolve runs the cache and builder and records which fingerprint tiers
// were queried. A table served from the cache reports the tiers that built it.
func (c *Controller) resolve(out *Outcome) (*symtab.ResolvedTable, error) {
	integ := c.integration
	var queried []string
	built := false
	table, err := c.cache.GetOrBuild(integ.ID, integ.Version, func() (*symtab.ResolvedTable, error) {
		built = true
		c.logger.Info("Building symbol table",
			"integration", integ.ID,
			"version", int(integ.Version),
			"keys", len(integ.Keys),
		)
		return symtab.Build(integ.ID, integ.Version, integ.Keys, c.searcher,
			symtab.OnQuery(func(key symtab.LogicalKey, tier string) {
				c.logger.Debug("Querying fingerprint tier", "key", string(key), "tier", tier)
				queried = append(queried, tier)
			}),
		)
	})
	if err == nil && !built {
		queried = table.Attempted()
	}
	out.Tiers = append(out.Tiers, fingerprintTiers(queried)...)
	if err != nil {
		return nil, err
	}
	return table, nil
}

// fingerprintTiers maps builder tier names onto fallback tiers. Any tier
// other than the primary one counts as heuristic.
func fingerprintTiers(names []string) []Tier {
	var primary, heuristic bool
	for _, n := range names {
		if n == symtab.TierPrimary {
			primary = true
		} else {
			heuristic = true
		}
	}
	var tiers []Tier
	if primary {
		tiers = append(tiers, TierFingerprintPrimary)
	}
	if heuristic {
		tiers = append(tiers, TierFingerprintHeuristic)
	}
	return tiers
}

// pattern locates the first type under the first matching prefix and
// applies the broad-surface patch to it.
func (c *Controller) pattern(out *Outcome) {
	for _, prefix := range c.integration.PatternPrefixes {
		candidates := c.matcher.FindTypes(query.MatchCriteria{
			PackagePrefix:    prefix,
			Name:             query.Contains(c.integration.PatternTypeName),
			ExcludeModifiers: introspect.ModInterface | introspect.ModAbstract,
		})
		if len(candidates) == 0 {
			c.logger.Debug("No type under pattern", "prefix", prefix)
			continue
		}

		owner := candidates[0].Type.Name
		out.PatternPrefix = prefix
		c.logger.Info("Applying broad-surface patch from pattern", "prefix", prefix, "owner", owner)
		out.Report = c.applicator.ApplyBroadSurface(owner)
		return
	}

	err := errors.New(errors.TypeNotFound, "no type located under any package pattern", nil)
	out.degrade(err)
	c.logger.Warn("Pattern tier failed, nothing patched",
		"integration", c.integration.ID,
		"patterns", len(c.integration.PatternPrefixes),
	)
}

func cancelled(ctx context.Context, out *Outcome, logger *slog.Logger) bool {
	if ctx.Err() == nil {
		return false
	}
	out.degrade(ctx.Err())
	logger.Warn("Module load cancelled", "error", ctx.Err().Error())
	return true
}
