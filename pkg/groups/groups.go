// Package groups partitions the changed files of a PR into groups with
// identical owners, determines which groups are approved, and ranks
// them by their relevance to the current user.
package groups

import (
	"cmp"
	"slices"

	"github.com/tzrikka/revowners/pkg/codeowners"
)

// Kind distinguishes owned groups from the two special groups.
type Kind int

const (
	// Owned groups require an approval from at least one of their owners.
	Owned Kind = iota
	// AnyReviewer is the group of files without specific owners (the
	// "null owner set"): an approval from anyone at all is sufficient.
	AnyReviewer
	// Unowned is the group of files which are explicitly
	// unowned (see [codeowners.EmptyOwnersUnowned]).
	Unowned
)

func (k Kind) String() string {
	switch k {
	case AnyReviewer:
		return "any-reviewer"
	case Unowned:
		return "unowned"
	default:
		return "owned"
	}
}

const (
	anyReviewerKey = "__any__"
	unownedKey     = "__unowned__"
)

// File is a changed file in a PR. The digest identifies it in the PR's diff view.
type File struct {
	Digest string `json:"digest"`
	Path   string `json:"path"`
}

// Group is a set of changed files which share the same owners.
// Approved and Priority are populated by [Rank].
type Group struct {
	Kind     Kind
	Owners   codeowners.Set // Nil unless Kind is [Owned].
	Files    []File
	Approved bool
	Priority int
}

// Resolver determines the owners of a file path.
type Resolver interface {
	Resolve(filePath string) codeowners.Match
}

// GroupFiles partitions the given files by their resolved owners: every
// file appears in exactly one group, different rules with the same owners
// share a group, and groups are ordered by their first file.
func GroupFiles(files []File, r Resolver) []Group {
	var gs []Group
	index := map[string]int{}

	for _, f := range files {
		m := r.Resolve(f.Path)

		g := Group{Kind: Owned, Owners: m.Owners}
		key := m.Owners.Key()
		switch {
		case m.Unowned:
			g = Group{Kind: Unowned}
			key = unownedKey
		case !m.Matched || len(m.Owners) == 0:
			g = Group{Kind: AnyReviewer}
			key = anyReviewerKey
		}

		i, found := index[key]
		if !found {
			i = len(gs)
			index[key] = i
			gs = append(gs, g)
		}
		gs[i].Files = append(gs[i].Files, f)
	}

	return gs
}

// Approved reports whether the group has received the approval it needs.
func Approved(g Group, approvals codeowners.Set) bool {
	switch g.Kind {
	case AnyReviewer:
		return len(approvals) > 0
	case Unowned:
		return true
	default:
		return approvals.HasAny(g.Owners)
	}
}

// Priorities, in ascending order (lower = more urgent for the current user).
const (
	UserSoleOwnerUnapproved = iota
	UserCoOwnerUnapproved
	UserOwnerApproved
	OtherUnapproved
	OtherApproved
)

// Viewer is the user for whom groups are ranked.
type Viewer struct {
	Login string
	Teams codeowners.Set // Including the user's own login.
}

// Priority ranks a group by its relevance to the viewer. PR authors cannot
// approve their own PRs, so for them only [OtherUnapproved] and [OtherApproved]
// apply. Any reviewer may approve [AnyReviewer] groups, so the viewer's own
// teams stand in for the owners of such groups.
func Priority(g Group, approvals codeowners.Set, v Viewer, prAuthor string) int {
	approved := Approved(g, approvals)

	owners := g.Owners
	switch g.Kind {
	case AnyReviewer:
		owners = v.Teams
	case Unowned:
		owners = nil
	}

	if v.Login != "" && v.Login != prAuthor && len(owners) > 0 {
		owns := v.Teams.HasAny(owners)
		onlyOwner := true
		for t := range owners {
			if !v.Teams.Has(t) {
				onlyOwner = false
				break
			}
		}

		switch {
		case onlyOwner && !approved:
			return UserSoleOwnerUnapproved
		case owns && !approved:
			return UserCoOwnerUnapproved
		case owns && approved:
			return UserOwnerApproved
		}
	}

	if !approved {
		return OtherUnapproved
	}
	return OtherApproved
}

// Rank populates the approval state and priority of all the groups, and
// sorts them by priority (ascending), and then by the number of files
// (descending). The sort is stable: ties preserve the original order.
func Rank(gs []Group, approvals codeowners.Set, v Viewer, prAuthor string) {
	for i := range gs {
		gs[i].Approved = Approved(gs[i], approvals)
		gs[i].Priority = Priority(gs[i], approvals, v, prAuthor)
	}

	slices.SortStableFunc(gs, func(a, b Group) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(len(b.Files), len(a.Files))
	})
}
