// Package bstar defines the splash advertisement suppression integration
// for the bstar (Bilibili international) Android app.
package bstar

import (
	"splashguard/internal/fallback"
	"splashguard/internal/introspect"
	"splashguard/internal/query"
	"splashguard/internal/symtab"
)

const (
	// PackageName is the application package the integration targets.
	PackageName = "com.bstar.intl"
	// IntegrationID keys the resolution cache.
	IntegrationID = PackageName

	// Version must be bumped whenever Keys or their criteria change.
	Version symtab.VersionTag = 3

	// DirectOwner is the unobfuscated splash model type.
	DirectOwner = "com.bstar.intl.ui.splash.ad.model.Splash"
	// DirectMember is the unobfuscated validity predicate.
	DirectMember = "isValid"

	// PatternTypeName locates a candidate type under a pattern prefix.
	PatternTypeName = "Splash"
)

// PatternPrefixes are the package prefixes the pattern tier tries, in order.
var PatternPrefixes = []string{
	"com.bstar.intl.ui.splash",
	"com.bilibili.splash",
	"tv.danmaku.bili.splash",
}

// Definition returns the integration with its default fallback targets.
func Definition() fallback.Integration {
	return fallback.Integration{
		ID:              IntegrationID,
		PackageName:     PackageName,
		Version:         Version,
		Keys:            Keys(),
		DirectOwner:     DirectOwner,
		DirectMember:    DirectMember,
		PatternPrefixes: append([]string(nil), PatternPrefixes...),
		PatternTypeName: PatternTypeName,
	}
}

// Keys returns the logical keys in resolution order. IS_VALID_METHOD is
// scoped to the type resolved for SPLASH_CLASS.
func Keys() []symtab.KeySpec {
	return []symtab.KeySpec{
		{
			Key:       symtab.SplashClass,
			Kind:      symtab.KindType,
			Mandatory: true,
			Tiers: []symtab.CriteriaTier{
				symtab.Fixed(symtab.TierPrimary, query.MatchCriteria{
					PackagePrefix:    PackageName,
					Name:             query.Contains("Splash"),
					ExcludeModifiers: introspect.ModInterface,
					DeclaresMethod:   isValidCriteria(""),
				}),
				// Obfuscation renames the type and the predicate, but the
				// predicate still reads instance state.
				symtab.Fixed(symtab.TierHeuristic, query.MatchCriteria{
					PackagePrefix:    PackageName,
					Name:             query.Contains(".splash."),
					ExcludeModifiers: introspect.ModInterface | introspect.ModAbstract,
					DeclaresMethod:   validatorShapeCriteria(""),
				}),
			},
		},
		{
			Key:       symtab.IsValidMethod,
			Kind:      symtab.KindMethod,
			Mandatory: true,
			Tiers: []symtab.CriteriaTier{
				{Name: symtab.TierPrimary, Criteria: func(r symtab.Resolved) (query.MatchCriteria, bool) {
					owner, ok := r.Owner(symtab.SplashClass)
					return *isValidCriteria(owner), ok
				}},
				{Name: symtab.TierHeuristic, Criteria: func(r symtab.Resolved) (query.MatchCriteria, bool) {
					owner, ok := r.Owner(symtab.SplashClass)
					return *validatorShapeCriteria(owner), ok
				}},
			},
		},
		{
			Key:  symtab.SplashActivity,
			Kind: symtab.KindType,
			Tiers: []symtab.CriteriaTier{
				symtab.Fixed(symtab.TierPrimary, query.MatchCriteria{
					PackagePrefix: PackageName,
					Name:          query.Suffix(".SplashActivity"),
					SuperType:     query.Contains("Activity"),
				}),
				symtab.Fixed(symtab.TierHeuristic, query.MatchCriteria{
					PackagePrefix: PackageName,
					Name:          query.Contains("Splash"),
					SuperType:     query.Contains("Activity"),
					DeclaresMethod: &query.MatchCriteria{
						Name:       query.Equals("onCreate"),
						ParamTypes: []string{"android.os.Bundle"},
					},
				}),
			},
		},
	}
}

func isValidCriteria(owner string) *query.MatchCriteria {
	return &query.MatchCriteria{
		DeclaringType: owner,
		Name:          query.Equals(DirectMember),
		ReturnType:    "boolean",
		ParamCount:    query.Arity(0),
	}
}

func validatorShapeCriteria(owner string) *query.MatchCriteria {
	return &query.MatchCriteria{
		DeclaringType:    owner,
		ReturnType:       "boolean",
		ParamCount:       query.Arity(0),
		ExcludeModifiers: introspect.ModStatic | introspect.ModAbstract,
		UsesFields:       true,
	}
}
