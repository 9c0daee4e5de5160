package entities

import "slices"

// PatternRules is the allow/deny pattern pair configured for one action
// kind.
type PatternRules struct {
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty" validate:"omitempty,dive,required"`
	Deny  []string `json:"deny,omitempty" yaml:"deny,omitempty" validate:"omitempty,dive,required"`
}

// IsEmpty reports whether no pattern is configured.
func (r PatternRules) IsEmpty() bool {
	return len(r.Allow) == 0 && len(r.Deny) == 0
}

// Clone returns a deep copy.
func (r PatternRules) Clone() PatternRules {
	return PatternRules{
		Allow: slices.Clone(r.Allow),
		Deny:  slices.Clone(r.Deny),
	}
}

// Merge appends the patterns of other that are not already present.
func (r *PatternRules) Merge(other PatternRules) {
	r.Allow = mergeUnique(r.Allow, other.Allow)
	r.Deny = mergeUnique(r.Deny, other.Deny)
}

// Allows reports whether pattern is listed verbatim as an allow rule.
func (r PatternRules) Allows(pattern string) bool {
	return slices.Contains(r.Allow, pattern)
}

func mergeUnique(base, extra []string) []string {
	for _, p := range extra {
		if !slices.Contains(base, p) {
			base = append(base, p)
		}
	}
	return base
}
