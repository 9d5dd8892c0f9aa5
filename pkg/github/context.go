package github

import (
	"context"
	"fmt"
	"time"

	"github.com/tzrikka/revowners/internal/cache"
	"github.com/tzrikka/revowners/pkg/ownership"
)

// Fingerprint implements the [ownership.ContextProvider] interface. The PR's
// head commit, base branch and last update time serve as its timeline, so
// new commits and reviews change it. Review states also expire every
// [Client.ReviewWindow].
func (c *Client) Fingerprint(ctx context.Context, pr ownership.PullRequest) (ownership.Fingerprint, error) {
	p, _, err := c.gh.PullRequests.Get(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		return ownership.Fingerprint{}, fmt.Errorf("failed to get GitHub PR: %w", err)
	}

	window := c.ReviewWindow
	if window == 0 {
		window = cache.DefaultWindow
	}

	updated := p.GetUpdatedAt().UTC().Format(time.RFC3339)
	return ownership.Fingerprint{
		Navigation: pr.URL(),
		Timeline:   fmt.Sprintf("%s@%s@%s", p.GetHead().GetSHA(), p.GetBase().GetRef(), updated),
		Bucket:     cache.TimeBucket(time.Now(), window),
	}, nil
}
