package ownership

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tzrikka/revowners/internal/cache"
	"github.com/tzrikka/revowners/pkg/approvals"
	"github.com/tzrikka/revowners/pkg/groups"
	"github.com/tzrikka/revowners/pkg/teams"
)

// PullRequest identifies a PR.
type PullRequest struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// URL returns the PR's web address, which identifies it uniquely.
func (pr PullRequest) URL() string {
	return fmt.Sprintf("https://github.com/%s/%s/pull/%d", pr.Owner, pr.Repo, pr.Number)
}

// ParsePullRequest parses either a GitHub PR URL
// ("https://github.com/owner/repo/pull/123") or
// a short reference ("owner/repo#123").
func ParsePullRequest(s string) (PullRequest, error) {
	ref := strings.TrimSpace(s)
	if u, err := url.Parse(ref); err == nil && u.Host != "" {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) < 4 || parts[2] != "pull" {
			return PullRequest{}, fmt.Errorf("invalid pull request URL: %q", s)
		}
		ref = fmt.Sprintf("%s/%s#%s", parts[0], parts[1], parts[3])
	}

	repo, num, found := strings.Cut(ref, "#")
	owner, repo, ok := strings.Cut(repo, "/")
	if !found || !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return PullRequest{}, fmt.Errorf("invalid pull request reference: %q", s)
	}

	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return PullRequest{}, fmt.Errorf("invalid pull request number: %q", s)
	}

	return PullRequest{Owner: owner, Repo: repo, Number: n}, nil
}

// PullRequestInfo contains PR metadata which affects ownership resolution.
type PullRequestInfo struct {
	Author     string
	BaseBranch string
}

// DataSource fetches all the external data which ownership resolution depends on.
// Implementations are not expected to cache anything, the [Engine] does that.
type DataSource interface {
	teams.RosterFetcher

	FetchPullRequest(ctx context.Context, pr PullRequest) (PullRequestInfo, error)
	// FetchOwnershipSpecText returns false if the repository doesn't have a "CODEOWNERS" file.
	FetchOwnershipSpecText(ctx context.Context, owner, repo, baseBranch string) (string, bool, error)
	// FetchChangedFiles returns the PR's files, in the order of the PR's diff.
	FetchChangedFiles(ctx context.Context, pr PullRequest) ([]groups.File, error)
	// FetchReviewStates returns the latest review state of each reviewer.
	FetchReviewStates(ctx context.Context, pr PullRequest) (approvals.ReviewState, error)
}

// Fingerprint is a set of opaque cache key fragments that describe the current
// context of a PR. A change in any of them may invalidate some cached data.
type Fingerprint struct {
	// Navigation identifies the PR itself (e.g. its URL).
	Navigation string
	// Timeline changes whenever the PR's history grows
	// (e.g. new commits, review requests, base branch changes).
	Timeline string
	// Bucket is a coarse time window, for data which may
	// be changed externally without any other signal.
	Bucket int64
}

// SameContext reports whether both fingerprints describe the same PR and
// timeline. Time buckets are ignored: elapsed time alone doesn't make a
// result stale, it only limits how long the result may be reused.
func (fp Fingerprint) SameContext(other Fingerprint) bool {
	return fp.Navigation == other.Navigation && fp.Timeline == other.Timeline
}

// ContextProvider derives the [Fingerprint] of a PR. Implementations
// may be arbitrarily specific to the environment that invokes the [Engine].
type ContextProvider interface {
	Fingerprint(ctx context.Context, pr PullRequest) (Fingerprint, error)
}

// ClockContext is a [ContextProvider] which relies only on the PR's identity,
// an optional timeline counter, and fixed-width time windows.
type ClockContext struct {
	Window   time.Duration                     // Default = [cache.DefaultWindow].
	Now      func() time.Time                  // Default = [time.Now].
	Timeline func(pr PullRequest) (int, error) // Optional, e.g. the number of timeline events.
}

// Fingerprint implements the [ContextProvider] interface.
func (c ClockContext) Fingerprint(_ context.Context, pr PullRequest) (Fingerprint, error) {
	window := c.Window
	if window == 0 {
		window = cache.DefaultWindow
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	fp := Fingerprint{Navigation: pr.URL(), Bucket: cache.TimeBucket(now(), window)}
	if c.Timeline != nil {
		n, err := c.Timeline(pr)
		if err != nil {
			return Fingerprint{}, err
		}
		fp.Timeline = fmt.Sprintf("%s#%d", fp.Navigation, n)
	}

	return fp, nil
}
