// Package teams resolves owner tokens into team rosters, and builds the
// reverse index from each person to all the teams they belong to.
package teams

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tzrikka/revowners/internal/logger"
	"github.com/tzrikka/revowners/internal/otel"
	"github.com/tzrikka/revowners/pkg/codeowners"
)

// MaxConcurrentFetches limits the fan-out of [BuildDirectory].
const MaxConcurrentFetches = 8

// RosterFetcher retrieves the complete (i.e. all pages) member list of an organization team.
type RosterFetcher interface {
	FetchTeamRoster(ctx context.Context, org, teamSlug string) ([]string, error)
}

// Directory maps owner tokens to the logins of their members. Individuals,
// and teams which could not be resolved, are pseudo-teams of themselves.
type Directory map[codeowners.Token][]string

// PersonTeams maps user logins to the set of owner tokens which cover
// them, including their own login (as a pseudo-team of one).
type PersonTeams map[string]codeowners.Set

// BuildDirectory resolves the members of all the given tokens. Teams in the
// given organization are fetched concurrently, all other tokens become
// pseudo-teams of themselves. A team whose roster cannot be fetched is
// degraded to a pseudo-team too, without affecting any other team, and
// reported in the returned (sorted) list of degraded tokens.
//
// If the context is done before all the rosters are fetched, the
// directory is incomplete, and the context's error is returned instead.
func BuildDirectory(ctx context.Context, f RosterFetcher, tokens []codeowners.Token, org string) (Directory, []codeowners.Token, error) {
	d := make(Directory, len(tokens))
	var teams []codeowners.Token
	for _, t := range tokens {
		if _, found := d[t]; found {
			continue
		}
		d[t] = []string{string(t)}
		if t.IsTeam() && strings.EqualFold(t.Org(), org) {
			teams = append(teams, t)
		}
	}

	var mu sync.Mutex
	var degraded []codeowners.Token
	var g errgroup.Group
	g.SetLimit(MaxConcurrentFetches)

	for _, t := range teams {
		g.Go(func() error {
			members, err := f.FetchTeamRoster(ctx, t.Org(), t.Slug())
			if err != nil {
				if ctx.Err() != nil {
					return nil // Reported once, below.
				}
				logger.FromContext(ctx).Warn("failed to fetch team roster, degrading to pseudo-team",
					slog.Any("error", err), slog.String("team", string(t)))
				otel.IncrementCounter(ctx, "teams.roster.degraded", 1, map[string]string{"org": org})

				mu.Lock()
				degraded = append(degraded, t)
				mu.Unlock()
				return nil
			}

			members = slices.Clone(members)
			slices.Sort(members)
			members = slices.Compact(members)

			mu.Lock()
			d[t] = members
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() // Goroutines never return errors.
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	slices.Sort(degraded)
	return d, degraded, nil
}

// BuildPersonTeams inverts the directory. Every token in the directory, and
// every member of every team, has an entry which contains at least itself.
func BuildPersonTeams(d Directory) PersonTeams {
	pt := PersonTeams{}
	for t, members := range d {
		pt.add(string(t), t)
		for _, m := range members {
			pt.add(m, t)
		}
	}
	return pt
}

func (pt PersonTeams) add(login string, t codeowners.Token) {
	s, found := pt[login]
	if !found {
		s = codeowners.NewSet(codeowners.Token(login))
		pt[login] = s
	}
	s.Add(t)
}

// Of returns the owner tokens which cover the given login. Unknown
// logins are covered only by their own pseudo-team. The returned
// set is a copy, so callers may modify it.
func (pt PersonTeams) Of(login string) codeowners.Set {
	s := codeowners.NewSet(codeowners.Token(login))
	s.Union(pt[login])
	return s
}

// Members returns the members of a token, or nil if it is unknown.
func (d Directory) Members(t codeowners.Token) []string {
	return d[t]
}
