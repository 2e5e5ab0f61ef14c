// Package rules holds the pure calculations shared by the services and the read APIs.
package rules

import (
	"strings"

	"github.com/Dosada05/club-system/models"
)

// Known cohort names. Anything else is kept verbatim.
const (
	GroupMen     = "Men"
	GroupWomen   = "Women"
	GroupU13     = "U-13"
	GroupU15     = "U-15"
	GroupU18     = "U-18"
	GroupKids    = "Kids"
	GroupJuniors = "Juniors"
)

var canonicalGroups = map[string]string{
	"men":     GroupMen,
	"mens":    GroupMen,
	"women":   GroupWomen,
	"womens":  GroupWomen,
	"ladies":  GroupWomen,
	"u-13":    GroupU13,
	"u13":     GroupU13,
	"u-15":    GroupU15,
	"u15":     GroupU15,
	"u-18":    GroupU18,
	"u18":     GroupU18,
	"kids":    GroupKids,
	"juniors": GroupJuniors,
	"junior":  GroupJuniors,
}

var juniorGroups = map[string]bool{
	GroupU13:     true,
	GroupU15:     true,
	GroupU18:     true,
	GroupKids:    true,
	GroupJuniors: true,
}

// CanonicalGroup maps a raw cohort name onto its canonical spelling.
func CanonicalGroup(raw string) (string, bool) {
	g, ok := canonicalGroups[strings.ToLower(strings.TrimSpace(raw))]
	return g, ok
}

// NormalizeGroups folds the legacy single group string into the groups set,
// canonicalises names and drops duplicates and blanks, keeping first-seen order.
func NormalizeGroups(groups []string, legacy *string) []string {
	raw := make([]string, 0, len(groups)+1)
	raw = append(raw, groups...)
	if legacy != nil {
		raw = append(raw, *legacy)
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, g := range raw {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if canonical, ok := CanonicalGroup(g); ok {
			g = canonical
		}
		if seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}

// CategoryAttributes are the raw member attributes the category depends on.
type CategoryAttributes struct {
	Gender        *string
	PaysViaParent bool
	Groups        []string
	LegacyGroup   *string
}

// DeriveCategory maps raw attributes onto men, women or juniors.
// Junior cohorts and delegated payment win over gender; gender wins over the
// adult cohort names.
func DeriveCategory(attrs CategoryAttributes) models.Category {
	groups := NormalizeGroups(attrs.Groups, attrs.LegacyGroup)

	if attrs.PaysViaParent {
		return models.CategoryJuniors
	}
	for _, g := range groups {
		if juniorGroups[g] {
			return models.CategoryJuniors
		}
	}

	if attrs.Gender != nil {
		switch strings.ToLower(strings.TrimSpace(*attrs.Gender)) {
		case "female", "f", "woman", "women":
			return models.CategoryWomen
		case "male", "m", "man", "men":
			return models.CategoryMen
		}
	}

	for _, g := range groups {
		if g == GroupWomen {
			return models.CategoryWomen
		}
	}
	return models.CategoryMen
}

// MemberCategory is DeriveCategory applied to a member document.
func MemberCategory(m *models.Member) models.Category {
	return DeriveCategory(CategoryAttributes{
		Gender:        m.Gender,
		PaysViaParent: m.PaysViaParent,
		Groups:        m.Groups,
		LegacyGroup:   m.LegacyGroup,
	})
}

// GroupsOverlap reports whether an event targeting targets is visible to a subject in
// groups. An empty target list means everyone.
func GroupsOverlap(targets, groups []string) bool {
	if len(targets) == 0 {
		return true
	}
	normTargets := NormalizeGroups(targets, nil)
	normGroups := NormalizeGroups(groups, nil)
	for _, t := range normTargets {
		for _, g := range normGroups {
			if t == g {
				return true
			}
		}
	}
	return false
}
