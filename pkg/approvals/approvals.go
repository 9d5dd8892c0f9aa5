// Package approvals aggregates the review state of individual
// reviewers into approvals of owner tokens (teams and individuals).
package approvals

import (
	"slices"
	"time"

	"github.com/tzrikka/revowners/pkg/codeowners"
	"github.com/tzrikka/revowners/pkg/teams"
)

// ReviewState maps reviewer logins to whether their latest review is an approval.
type ReviewState map[string]bool

// Review states, as reported by GitHub.
const (
	StateApproved         = "APPROVED"
	StateChangesRequested = "CHANGES_REQUESTED"
	StateCommented        = "COMMENTED"
	StateDismissed        = "DISMISSED"
	StatePending          = "PENDING"
)

// Review is a single review event of a PR.
type Review struct {
	Login       string
	State       string
	SubmittedAt time.Time
}

// Reduce converts a PR's review history into a [ReviewState], where the latest
// decisive review of each reviewer wins: an approval sets their state to true,
// and a request for changes or a dismissal sets it to false. Comments and
// pending reviews never change the state, but a commenter still gets an entry.
func Reduce(reviews []Review) ReviewState {
	sorted := slices.Clone(reviews)
	slices.SortStableFunc(sorted, func(a, b Review) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})

	rs := ReviewState{}
	for _, r := range sorted {
		if r.Login == "" {
			continue
		}
		switch r.State {
		case StateApproved:
			rs[r.Login] = true
		case StateChangesRequested, StateDismissed:
			rs[r.Login] = false
		default:
			if _, found := rs[r.Login]; !found {
				rs[r.Login] = false
			}
		}
	}
	return rs
}

// Approvers returns the logins of all approving reviewers, sorted.
func (rs ReviewState) Approvers() []string {
	var logins []string
	for login, approved := range rs {
		if approved {
			logins = append(logins, login)
		}
	}
	slices.Sort(logins)
	return logins
}

// ComputeOwnerApprovals returns all the owner tokens which cover at least one
// approving reviewer. Adding approvals to the state never removes tokens.
func ComputeOwnerApprovals(rs ReviewState, pt teams.PersonTeams) codeowners.Set {
	approved := codeowners.NewSet()
	for login, ok := range rs {
		if ok {
			approved.Union(pt.Of(login))
		}
	}
	return approved
}
