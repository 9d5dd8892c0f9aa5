// Package ownership resolves which owners are responsible for each file in a PR,
// and which of them have already approved it.
//
// The [Engine] is designed to be invoked repeatedly (e.g. by a debounced trigger)
// with mostly unchanged inputs: every external fetch is memoized in a single-slot
// cache, keyed by the part of the PR's context that may invalidate it, and an
// unchanged context returns the previous [Report] without any work.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tzrikka/revowners/internal/cache"
	"github.com/tzrikka/revowners/internal/logger"
	"github.com/tzrikka/revowners/internal/otel"
	"github.com/tzrikka/revowners/pkg/approvals"
	"github.com/tzrikka/revowners/pkg/codeowners"
	"github.com/tzrikka/revowners/pkg/groups"
	"github.com/tzrikka/revowners/pkg/teams"
)

// ErrStale is returned when the PR's context changed while it was being resolved.
// The result of such a pass is discarded, and the caller should simply retry.
var ErrStale = errors.New("pull request context changed during resolution")

type timelineKey struct {
	URL, Timeline string
}

type reviewsKey struct {
	timelineKey
	Bucket int64
}

type rulesKey struct {
	Owner, Repo, BaseBranch string
}

type rosterKey struct {
	Owner, Repo string
	Tokens      string // Rosters are fetched only for tokens in the current rules.
}

type reportKey struct {
	reviewsKey
	BaseBranch string
	User       string
}

type ownersFile struct {
	rules codeowners.Rules
	found bool
}

// roster is a team directory, and the teams that were degraded
// to pseudo-teams of themselves because their rosters are unavailable.
type roster struct {
	dir      teams.Directory
	degraded []codeowners.Token
}

// Engine resolves PR ownership reports. It is safe for concurrent use.
type Engine struct {
	src    DataSource
	cp     ContextProvider
	policy codeowners.EmptyOwnersPolicy

	info    *cache.Slot[timelineKey, PullRequestInfo]
	file    *cache.Slot[rulesKey, ownersFile]
	files   *cache.Slot[timelineKey, []groups.File]
	reviews *cache.Slot[reviewsKey, approvals.ReviewState]
	rosters *cache.Slot[rosterKey, roster]
	reports *cache.Slot[reportKey, *Report]

	mu   sync.Mutex
	last *Report
}

// NewEngine creates a new [Engine] instance, with its own empty caches.
func NewEngine(src DataSource, cp ContextProvider, policy codeowners.EmptyOwnersPolicy) *Engine {
	return &Engine{
		src:    src,
		cp:     cp,
		policy: policy,

		info:    cache.New[timelineKey, PullRequestInfo]("pull_request", cache.NoExpiration),
		file:    cache.New[rulesKey, ownersFile]("codeowners", cache.NoExpiration),
		files:   cache.New[timelineKey, []groups.File]("changed_files", cache.NoExpiration),
		reviews: cache.New[reviewsKey, approvals.ReviewState]("reviews", cache.NoExpiration),
		rosters: cache.New[rosterKey, roster]("rosters", cache.NoExpiration),
		reports: cache.New[reportKey, *Report]("reports", cache.NoExpiration),
	}
}

// Resolve returns the ownership report of the given PR, from the point of view of
// the given user (which may be empty). Calling it again with an unchanged context
// is cheap, and returns the same report. If a required fetch fails, Resolve returns
// an error, and the cached data of the previous successful pass is kept.
func (e *Engine) Resolve(ctx context.Context, pr PullRequest, user string) (*Report, error) {
	fp, err := e.cp.Fingerprint(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to derive PR context: %w", err)
	}

	tk := timelineKey{URL: fp.Navigation, Timeline: fp.Timeline}
	info, err := e.info.Get(ctx, tk, func(ctx context.Context) (PullRequestInfo, error) {
		return e.src.FetchPullRequest(ctx, pr)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch PR details: %w", err)
	}

	rk := reportKey{reviewsKey: reviewsKey{timelineKey: tk, Bucket: fp.Bucket}, BaseBranch: info.BaseBranch, User: user}
	r, err := e.reports.Get(ctx, rk, func(ctx context.Context) (*Report, error) {
		return e.compute(ctx, pr, rk, info, user)
	})
	if err != nil {
		return nil, err
	}

	// Stale-write guard: don't publish results for a context that no longer exists.
	if now, err := e.cp.Fingerprint(ctx, pr); err != nil || !now.SameContext(fp) {
		logger.FromContext(ctx).Debug("discarding stale ownership report", slog.String("pr_url", pr.URL()))
		return nil, ErrStale
	}

	e.mu.Lock()
	e.last = r
	e.mu.Unlock()

	return r, nil
}

// Last returns the most recent report which was returned by [Engine.Resolve]
// without an error, or nil if there isn't any.
func (e *Engine) Last() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.last
}

func (e *Engine) compute(ctx context.Context, pr PullRequest, rk reportKey, info PullRequestInfo, user string) (*Report, error) {
	l := logger.FromContext(ctx).With(slog.String("pr_url", pr.URL()))

	var (
		s       ownersFile
		dir     teams.Directory
		files   []groups.File
		reviews approvals.ReviewState
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		s, err = e.file.Get(gctx, rulesKey{pr.Owner, pr.Repo, info.BaseBranch}, func(ctx context.Context) (ownersFile, error) {
			text, found, err := e.src.FetchOwnershipSpecText(ctx, pr.Owner, pr.Repo, info.BaseBranch)
			if err != nil || !found {
				return ownersFile{}, err
			}
			return ownersFile{rules: codeowners.Parse(ctx, text, e.policy), found: true}, nil
		})
		if err != nil {
			return fmt.Errorf("failed to fetch CODEOWNERS file: %w", err)
		}
		if len(s.rules) == 0 {
			return nil
		}

		tokens := s.rules.Tokens()
		key := rosterKey{Owner: pr.Owner, Repo: pr.Repo, Tokens: tokensKey(tokens)}
		ros, err := e.rosters.Get(gctx, key, func(ctx context.Context) (roster, error) {
			d, degraded, err := teams.BuildDirectory(ctx, e.src, tokens, pr.Owner)
			return roster{dir: d, degraded: degraded}, err
		})
		if err != nil {
			return fmt.Errorf("failed to fetch team rosters: %w", err)
		}

		// Use the degraded directory in this pass, but retry the missing rosters in the next one.
		if len(ros.degraded) > 0 {
			l.Warn("using degraded team directory", slog.Any("teams", ros.degraded))
			e.rosters.Expire(key)
		}
		dir = ros.dir
		return nil
	})
	g.Go(func() error {
		var err error
		files, err = e.files.Get(gctx, rk.timelineKey, func(ctx context.Context) ([]groups.File, error) {
			return e.src.FetchChangedFiles(ctx, pr)
		})
		if err != nil {
			return fmt.Errorf("failed to fetch changed files: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		reviews, err = e.reviews.Get(gctx, rk.reviewsKey, func(ctx context.Context) (approvals.ReviewState, error) {
			return e.src.FetchReviewStates(ctx, pr)
		})
		if err != nil {
			return fmt.Errorf("failed to fetch review states: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		l.Error("failed to resolve PR ownership", slog.Any("error", err))
		otel.IncrementCounter(ctx, "ownership.resolve.failed", 1, nil)
		return nil, err
	}

	r := &Report{PullRequest: pr, Author: info.Author, User: user, BaseBranch: info.BaseBranch}
	switch {
	case !s.found || len(s.rules) == 0:
		r.State = Inactive
	case len(files) == 0:
		r.State = NoFiles
		r.rules, r.personTeams = s.rules, teams.BuildPersonTeams(dir)
	default:
		r.State = Active
		r.populate(s.rules, dir, files, reviews)
	}

	l.Debug("resolved PR ownership", slog.String("state", string(r.State)),
		slog.Int("groups", len(r.Groups)), slog.Int("files", r.Status.TotalFiles))
	otel.IncrementCounter(ctx, "ownership.resolve", 1, map[string]string{"state": string(r.State)})
	return r, nil
}

func tokensKey(tokens []codeowners.Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.WriteString(string(t))
		sb.WriteByte(' ')
	}
	return sb.String()
}
