package codeowners

import (
	"slices"
	"strings"
)

// Token identifies an owner: either a team ("@org/team-slug") or an
// individual user login. Tokens are opaque set elements everywhere
// except in [Token.IsTeam], [Token.Org] and [Token.Slug].
type Token string

// ParseToken converts an owner as written in a "CODEOWNERS"
// file into a [Token]. Individual users are stored without the
// "@" prefix, so they can be compared with review author logins.
func ParseToken(s string) Token {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		return Token(s)
	}
	return Token(strings.TrimPrefix(s, "@"))
}

// IsTeam reports whether the token has the form "@org/team-slug".
func (t Token) IsTeam() bool {
	org, slug, found := strings.Cut(string(t), "/")
	return found && len(org) > 1 && strings.HasPrefix(org, "@") && slug != ""
}

// Org returns the organization name of a team token, or "" for individuals.
func (t Token) Org() string {
	if !t.IsTeam() {
		return ""
	}
	org, _, _ := strings.Cut(string(t), "/")
	return org[1:]
}

// Slug returns the team slug of a team token, or "" for individuals.
func (t Token) Slug() string {
	if !t.IsTeam() {
		return ""
	}
	_, slug, _ := strings.Cut(string(t), "/")
	return slug
}

// Set is an unordered set of owner tokens.
type Set map[Token]struct{}

// NewSet returns a set with the given tokens.
func NewSet(tokens ...Token) Set {
	s := make(Set, len(tokens))
	for _, t := range tokens {
		s[t] = struct{}{}
	}
	return s
}

func (s Set) Has(t Token) bool {
	_, found := s[t]
	return found
}

func (s Set) Add(t Token) {
	s[t] = struct{}{}
}

// Union adds all the tokens of the other set to this one.
func (s Set) Union(other Set) {
	for t := range other {
		s[t] = struct{}{}
	}
}

// HasAny reports whether the two sets intersect.
func (s Set) HasAny(other Set) bool {
	for t := range other {
		if s.Has(t) {
			return true
		}
	}
	return false
}

// Sorted returns the tokens of the set in lexicographic order.
func (s Set) Sorted() []Token {
	ts := make([]Token, 0, len(s))
	for t := range s {
		ts = append(ts, t)
	}
	slices.Sort(ts)
	return ts
}

// Key returns a canonical string representation of the set: two sets
// have the same key if and only if they contain the same tokens.
func (s Set) Key() string {
	ts := s.Sorted()
	ss := make([]string, len(ts))
	for i, t := range ts {
		ss[i] = string(t)
	}
	return strings.Join(ss, ",")
}
