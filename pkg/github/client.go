// Package github implements the data source of ownership resolution
// using the GitHub REST API: PR details, changed files, reviews,
// "CODEOWNERS" files, and organization team rosters.
package github

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v71/github"

	"github.com/tzrikka/revowners/internal/logger"
	"github.com/tzrikka/revowners/pkg/approvals"
	"github.com/tzrikka/revowners/pkg/codeowners"
	"github.com/tzrikka/revowners/pkg/groups"
	"github.com/tzrikka/revowners/pkg/ownership"
)

const perPage = 100

// Client is an [ownership.DataSource] backed by the GitHub REST API.
type Client struct {
	gh *gh.Client

	// ReviewWindow is the maximum age of cached review states
	// when the client is used as an [ownership.ContextProvider].
	ReviewWindow time.Duration
}

// NewClient creates a GitHub API client. The token is optional, but without it
// GitHub's rate limits are very low, and private data is inaccessible. The base
// URL is optional too, and should be set only for GitHub Enterprise Server.
func NewClient(token, baseURL string) (*Client, error) {
	c := gh.NewClient(nil)
	if token != "" {
		c = c.WithAuthToken(token)
	}

	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API base URL: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		c.BaseURL = u
	}

	return &Client{gh: c}, nil
}

// FileDigest returns the identifier of a file in GitHub's
// PR diff view (used in anchors like "#diff-<digest>").
func FileDigest(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}

// CurrentUser returns the login of the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (string, error) {
	u, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("failed to get authenticated GitHub user: %w", err)
	}
	return u.GetLogin(), nil
}

// FetchPullRequest implements the [ownership.DataSource] interface.
func (c *Client) FetchPullRequest(ctx context.Context, pr ownership.PullRequest) (ownership.PullRequestInfo, error) {
	p, _, err := c.gh.PullRequests.Get(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		logger.FromContext(ctx).Error("failed to get GitHub PR", slog.Any("error", err), slog.String("pr_url", pr.URL()))
		return ownership.PullRequestInfo{}, err
	}

	return ownership.PullRequestInfo{
		Author:     p.GetUser().GetLogin(),
		BaseBranch: p.GetBase().GetRef(),
	}, nil
}

// FetchOwnershipSpecText implements the [ownership.DataSource] interface.
// It checks all the locations where GitHub supports "CODEOWNERS" files.
func (c *Client) FetchOwnershipSpecText(ctx context.Context, owner, repo, baseBranch string) (string, bool, error) {
	opts := &gh.RepositoryContentGetOptions{Ref: baseBranch}
	for _, path := range codeowners.CandidatePaths {
		file, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, opts)
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			continue
		}
		if err != nil {
			logger.FromContext(ctx).Error("failed to get GitHub file", slog.Any("error", err),
				slog.String("owner", owner), slog.String("repo", repo), slog.String("path", path))
			return "", false, err
		}
		if file == nil {
			continue // Directory.
		}

		content, err := file.GetContent()
		if err != nil {
			return "", false, fmt.Errorf("failed to decode %s: %w", path, err)
		}

		logger.FromContext(ctx).Debug("found CODEOWNERS file", slog.String("owner", owner),
			slog.String("repo", repo), slog.String("branch", baseBranch), slog.String("path", path))
		return content, true, nil
	}

	return "", false, nil
}

// FetchChangedFiles implements the [ownership.DataSource] interface.
func (c *Client) FetchChangedFiles(ctx context.Context, pr ownership.PullRequest) ([]groups.File, error) {
	var files []groups.File
	opts := &gh.ListOptions{PerPage: perPage}
	for {
		page, resp, err := c.gh.PullRequests.ListFiles(ctx, pr.Owner, pr.Repo, pr.Number, opts)
		if err != nil {
			logger.FromContext(ctx).Error("failed to list GitHub PR files", slog.Any("error", err), slog.String("pr_url", pr.URL()))
			return nil, err
		}

		for _, f := range page {
			files = append(files, groups.File{Digest: FileDigest(f.GetFilename()), Path: f.GetFilename()})
		}

		if resp.NextPage == 0 {
			return files, nil
		}
		opts.Page = resp.NextPage
	}
}

// FetchReviewStates implements the [ownership.DataSource] interface,
// based on [approvals.Reduce].
func (c *Client) FetchReviewStates(ctx context.Context, pr ownership.PullRequest) (approvals.ReviewState, error) {
	var reviews []approvals.Review
	opts := &gh.ListOptions{PerPage: perPage}
	for {
		page, resp, err := c.gh.PullRequests.ListReviews(ctx, pr.Owner, pr.Repo, pr.Number, opts)
		if err != nil {
			logger.FromContext(ctx).Error("failed to list GitHub PR reviews", slog.Any("error", err), slog.String("pr_url", pr.URL()))
			return nil, err
		}

		for _, r := range page {
			reviews = append(reviews, approvals.Review{
				Login:       r.GetUser().GetLogin(),
				State:       r.GetState(),
				SubmittedAt: r.GetSubmittedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			return approvals.Reduce(reviews), nil
		}
		opts.Page = resp.NextPage
	}
}

// FetchTeamRoster implements the [teams.RosterFetcher] interface.
// Nested teams are included, because GitHub lists their members too.
func (c *Client) FetchTeamRoster(ctx context.Context, org, teamSlug string) ([]string, error) {
	if org == "" || teamSlug == "" {
		return nil, errors.New("missing organization or team slug")
	}

	var logins []string
	opts := &gh.TeamListTeamMembersOptions{ListOptions: gh.ListOptions{PerPage: perPage}}
	for {
		page, resp, err := c.gh.Teams.ListTeamMembersBySlug(ctx, org, teamSlug, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list members of @%s/%s: %w", org, teamSlug, err)
		}

		for _, u := range page {
			logins = append(logins, u.GetLogin())
		}

		if resp.NextPage == 0 {
			return logins, nil
		}
		opts.Page = resp.NextPage
	}
}
