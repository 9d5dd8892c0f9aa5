package teams

import (
	"context"

	"github.com/tzrikka/revowners/pkg/codeowners"
)

// Overrides is a [RosterFetcher] which returns preconfigured rosters for
// some teams, and delegates all other teams to another (optional) fetcher.
type Overrides struct {
	Rosters map[codeowners.Token][]string
	Next    RosterFetcher
}

// FetchTeamRoster implements the [RosterFetcher] interface.
func (o Overrides) FetchTeamRoster(ctx context.Context, org, teamSlug string) ([]string, error) {
	if members, ok := o.Rosters[codeowners.Token("@"+org+"/"+teamSlug)]; ok {
		return members, nil
	}
	if o.Next == nil {
		return nil, nil
	}
	return o.Next.FetchTeamRoster(ctx, org, teamSlug)
}
