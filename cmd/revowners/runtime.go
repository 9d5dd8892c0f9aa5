package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/tzrikka/revowners/internal/logger"
	"github.com/tzrikka/revowners/internal/otel"
	"github.com/tzrikka/revowners/pkg/codeowners"
	"github.com/tzrikka/revowners/pkg/config"
	"github.com/tzrikka/revowners/pkg/github"
	"github.com/tzrikka/revowners/pkg/ownership"
	"github.com/tzrikka/revowners/pkg/teams"
)

// initRuntime initializes the logger and the metrics exporter, based
// on whether the app is running in development mode or not.
func initRuntime(ctx context.Context, cmd *cli.Command) (context.Context, *metric.MeterProvider, error) {
	dev := cmd.Bool("dev")
	l := logger.New(os.Stderr, dev || cmd.Bool("pretty-log"), dev)
	slog.SetDefault(l)
	ctx = logger.WithContext(ctx, l)

	if cmd.Bool("otlp-disabled") {
		return ctx, nil, nil
	}

	mp, err := otel.InitMetrics(ctx, otel.Options{
		Endpoint:    cmd.String("otlp-endpoint"),
		Timeout:     time.Duration(cmd.Int64("otlp-timeout-ms")) * time.Millisecond,
		Compression: cmd.String("otlp-compression"),
	})
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to initialize OTLP metrics: %w", err)
	}

	return ctx, mp, nil
}

// dataSource combines the GitHub API client with static team rosters.
type dataSource struct {
	*github.Client
	rosters teams.RosterFetcher
}

func (s dataSource) FetchTeamRoster(ctx context.Context, org, teamSlug string) ([]string, error) {
	return s.rosters.FetchTeamRoster(ctx, org, teamSlug)
}

// newClient initializes a GitHub API client, and returns it both
// as a data source and as a context provider of ownership resolution.
func newClient(cmd *cli.Command) (*github.Client, ownership.DataSource, error) {
	c, err := github.NewClient(cmd.String("github-token"), cmd.String("github-api-url"))
	if err != nil {
		return nil, nil, err
	}
	c.ReviewWindow = cmd.Duration("review-window")

	rosters := config.TeamRosters(cmd.StringSlice("team-rosters"))
	return c, dataSource{Client: c, rosters: teams.Overrides{Rosters: rosters, Next: c}}, nil
}

func emptyOwnersPolicy(cmd *cli.Command) (codeowners.EmptyOwnersPolicy, error) {
	p, ok := codeowners.ParseEmptyOwnersPolicy(cmd.String("empty-owners"))
	if !ok {
		return p, fmt.Errorf("invalid empty-owners value: %q", cmd.String("empty-owners"))
	}
	return p, nil
}
