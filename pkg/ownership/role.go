package ownership

import (
	"github.com/tzrikka/revowners/pkg/codeowners"
)

// Role is a user's relation to a PR, or to one of its files.
type Role string

const (
	Author   Role = "author"
	Owner    Role = "owner"
	NonOwner Role = "non-owner"
)

// Role classifies the given user login. If the path is not empty, ownership
// is determined only by the effective rule of that file. Otherwise, the user
// is an owner if they own any changed file, or any rule at all when the PR
// has no changed files.
func (r *Report) Role(login, path string) Role {
	switch {
	case login == "":
		return NonOwner
	case login == r.Author:
		return Author
	case path != "" && r.ownsFile(login, path):
		return Owner
	case path == "" && r.ownsAnyFile(login):
		return Owner
	default:
		return NonOwner
	}
}

func (r *Report) ownsFile(login, path string) bool {
	m := r.rules.Resolve(path)
	if !m.Matched {
		return false
	}
	return r.personTeams.Of(login).HasAny(m.Owners)
}

func (r *Report) ownsAnyFile(login string) bool {
	if len(r.files) == 0 {
		all := codeowners.NewSet(r.rules.Tokens()...)
		return r.personTeams.Of(login).HasAny(all)
	}

	for _, f := range r.files {
		if r.ownsFile(login, f.Path) {
			return true
		}
	}
	return false
}
