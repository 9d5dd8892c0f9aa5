package config

import (
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/revowners/internal/cache"
	"github.com/tzrikka/revowners/internal/logger"
	"github.com/tzrikka/revowners/pkg/codeowners"
	"github.com/tzrikka/xdg"
)

const (
	DirName        = "revowners"
	ConfigFileName = "config.toml"

	DefaultOTLPEndpoint = "https://localhost:4318"
	DefaultOTLPTimeout  = 10000 // 10 seconds.

	DefaultHTTPAddress  = "localhost:8080"
	DefaultReviewWindow = cache.DefaultWindow
	ShutdownTimeout     = 10 * time.Second
)

// configFile returns the path to the app's configuration file.
// It also creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, _ := xdg.FindConfigFile(DirName, ConfigFileName)
	if path != "" {
		return altsrc.StringSourcer(path)
	}

	path, err := xdg.CreateFile(xdg.ConfigHome, DirName, ConfigFileName)
	if err != nil {
		logger.Fatal("failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

// Flags defines CLI flags to configure the app. These flags are usually
// set using environment variables or the application's configuration file.
func Flags() []cli.Flag {
	path := configFile()

	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "simple setup, but unsafe for production",
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},

		// GitHub.
		&cli.StringFlag{
			Name:  "github-token",
			Usage: "GitHub API token (optional, but required for private repositories and team rosters)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GITHUB_TOKEN"),
				toml.TOML("github.token", path),
			),
		},
		&cli.StringFlag{
			Name:  "github-api-url",
			Usage: "GitHub Enterprise Server API base URL (e.g. https://github.example.com/api/v3)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("GITHUB_API_URL"),
				toml.TOML("github.api_url", path),
			),
		},

		// Ownership resolution.
		&cli.StringFlag{
			Name:  "user",
			Usage: "GitHub login of the user whose point of view is reported (default = the token's owner)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("REVOWNERS_USER"),
				toml.TOML("ownership.user", path),
			),
		},
		&cli.StringFlag{
			Name:  "empty-owners",
			Usage: `Handling of "CODEOWNERS" rules without owners: "any-reviewer", "unowned", or "skip"`,
			Value: codeowners.EmptyOwnersAnyReviewer.String(),
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("REVOWNERS_EMPTY_OWNERS"),
				toml.TOML("ownership.empty_owners", path),
			),
		},
		&cli.DurationFlag{
			Name:  "review-window",
			Usage: "Maximum age of cached review states",
			Value: DefaultReviewWindow,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("REVOWNERS_REVIEW_WINDOW"),
				toml.TOML("ownership.review_window", path),
			),
		},
		&cli.StringSliceFlag{
			Name:  "team-rosters",
			Usage: `Static team rosters, instead of fetching them from GitHub (e.g. "org/team=alice bob")`,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("REVOWNERS_TEAM_ROSTERS"),
				toml.TOML("teams.rosters", path),
			),
		},

		// HTTP server.
		&cli.StringFlag{
			Name:  "http-addr",
			Usage: "HTTP server address (for the serve command)",
			Value: DefaultHTTPAddress,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("REVOWNERS_HTTP_ADDR"),
				toml.TOML("server.address", path),
			),
		},
		&cli.StringSliceFlag{
			Name:  "http-cors-origins",
			Usage: "Web origins which are allowed to call the HTTP server (for the serve command)",
			Value: []string{"https://github.com"},
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("REVOWNERS_HTTP_CORS_ORIGINS"),
				toml.TOML("server.cors_origins", path),
			),
		},

		// Metrics.
		&cli.StringFlag{
			Name:  "metrics-csv-file",
			Usage: "Optional local CSV file to record every ownership report",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("REVOWNERS_METRICS_CSV_FILE"),
				toml.TOML("metrics.csv_file", path),
			),
			TakesFile: true,
		},

		// https://github.com/open-telemetry/opentelemetry-go/blob/main/exporters/otlp/otlpmetric/otlpmetrichttp/doc.go
		&cli.BoolFlag{
			Name:  "otlp-disabled",
			Usage: "Disable exporting OTLP metrics",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("OTEL_EXPORTER_OTLP_DISABLED"),
				toml.TOML("otlp.disabled", path),
			),
		},
		&cli.StringFlag{
			Name:  "otlp-endpoint",
			Usage: "OTLP endpoint using HTTP",
			Value: DefaultOTLPEndpoint,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("OTEL_EXPORTER_OTLP_ENDPOINT"),
				toml.TOML("otlp.endpoint", path),
			),
		},
		&cli.Int64Flag{
			Name:  "otlp-timeout-ms",
			Usage: "OTLP batch export timeout in milliseconds",
			Value: DefaultOTLPTimeout,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("OTEL_EXPORTER_OTLP_TIMEOUT_MS"),
				toml.TOML("otlp.timeout_ms", path),
			),
		},
		&cli.StringFlag{
			Name:  "otlp-compression",
			Usage: "OTLP compression method (e.g. gzip)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("OTEL_EXPORTER_OTLP_COMPRESSION"),
				toml.TOML("otlp.compression", path),
			),
		},
	}
}
