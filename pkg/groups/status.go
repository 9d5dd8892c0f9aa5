package groups

import (
	"slices"

	"github.com/tzrikka/revowners/pkg/codeowners"
)

// Status summarizes the approvals of all the groups. Only owned groups
// count as required approvals, but all the files count in TotalFiles.
type Status struct {
	Received   int `json:"received"`
	Required   int `json:"required"`
	TotalFiles int `json:"total_files"`
}

// Complete reports whether all the required approvals were received.
func (s Status) Complete() bool {
	return s.Received == s.Required
}

// ApprovalStatus computes the [Status] of the given groups.
func ApprovalStatus(gs []Group, approvals codeowners.Set) Status {
	var s Status
	for _, g := range gs {
		s.TotalFiles += len(g.Files)
		if g.Kind != Owned {
			continue
		}

		s.Required++
		if Approved(g, approvals) {
			s.Received++
		}
	}
	return s
}

// OwnerFlags describe a single owner for display purposes.
type OwnerFlags struct {
	Token                codeowners.Token `json:"token"`
	Team                 bool             `json:"team"`
	CoveredByCurrentUser bool             `json:"covered_by_current_user"`
	Approved             bool             `json:"approved"`
	Members              []string         `json:"members,omitempty"`
}

// Flags returns the display flags of all the owners in the given groups,
// ordered with the viewer's own teams first. The members function is
// optional, and may return nil for unknown tokens.
func Flags(gs []Group, approvals codeowners.Set, v Viewer, members func(codeowners.Token) []string) []OwnerFlags {
	all := codeowners.NewSet()
	for _, g := range gs {
		all.Union(g.Owners)
	}

	fs := make([]OwnerFlags, 0, len(all))
	for _, t := range DisplayOrder(all, v.Teams) {
		f := OwnerFlags{
			Token:                t,
			Team:                 t.IsTeam(),
			CoveredByCurrentUser: v.Teams.Has(t),
			Approved:             approvals.Has(t),
		}
		if members != nil {
			f.Members = members(t)
		}
		fs = append(fs, f)
	}

	return fs
}

// DisplayOrder sorts owner tokens so that the given user teams come first.
// Tokens are otherwise sorted lexicographically.
func DisplayOrder(owners, userTeams codeowners.Set) []codeowners.Token {
	ts := owners.Sorted()
	slices.SortStableFunc(ts, func(a, b codeowners.Token) int {
		switch ua, ub := userTeams.Has(a), userTeams.Has(b); {
		case ua && !ub:
			return -1
		case !ua && ub:
			return 1
		default:
			return 0
		}
	})
	return ts
}
