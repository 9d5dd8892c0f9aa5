package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tzrikka/revowners/internal/logger"
	"github.com/tzrikka/revowners/pkg/codeowners"
	"github.com/tzrikka/revowners/pkg/config"
	"github.com/tzrikka/revowners/pkg/groups"
	"github.com/tzrikka/revowners/pkg/metrics"
	"github.com/tzrikka/revowners/pkg/ownership"
	"github.com/tzrikka/revowners/pkg/server"
)

// maxStaleRetries limits how many times the report command retries
// when the PR changes while its ownership is being resolved.
const maxStaleRetries = 3

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Report the owners and approval status of a pull request",
		ArgsUsage: "<PR URL or owner/repo#number>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the report as JSON",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			pr, err := ownership.ParsePullRequest(cmd.Args().First())
			if err != nil {
				return err
			}

			client, src, err := newClient(cmd)
			if err != nil {
				return err
			}
			policy, err := emptyOwnersPolicy(cmd)
			if err != nil {
				return err
			}

			user := cmd.String("user")
			if user == "" {
				if user, err = client.CurrentUser(ctx); err != nil {
					logger.FromContext(ctx).Warn("reporting without a user's point of view", slog.Any("error", err))
				}
			}

			e := ownership.NewEngine(src, client, policy)
			r, err := e.Resolve(ctx, pr, user)
			for i := 0; errors.Is(err, ownership.ErrStale) && i < maxStaleRetries; i++ {
				r, err = e.Resolve(ctx, pr, user)
			}
			if err != nil {
				return err
			}
			metrics.NewReportLog(cmd.String("metrics-csv-file")).Record(ctx, r)

			w := cmd.Root().Writer
			if cmd.Bool("json") {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			return writeReport(w, r)
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve ownership reports over HTTP",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, src, err := newClient(cmd)
			if err != nil {
				return err
			}
			policy, err := emptyOwnersPolicy(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.NewServer(src, client, policy, cmd.String("user"))
			srv.AllowedOrigins = cmd.StringSlice("http-cors-origins")
			if rl := metrics.NewReportLog(cmd.String("metrics-csv-file")); rl != nil {
				srv.OnReport = rl.Record
			}

			addr := cmd.String("http-addr")
			s := &http.Server{
				Addr:              addr,
				Handler:           srv.Routes(),
				ReadHeaderTimeout: 5 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return ctx },
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.FromContext(gctx).Info("HTTP server listening", slog.String("address", addr))
				if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("HTTP server error: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				ctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), config.ShutdownTimeout)
				defer cancel()
				return s.Shutdown(ctx)
			})

			return g.Wait()
		},
	}
}

func matchCommand() *cli.Command {
	return &cli.Command{
		Name:      "match",
		Usage:     "Resolve the owners of local file paths, using a local CODEOWNERS file",
		ArgsUsage: "<path> [<path> ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:      "codeowners",
				Usage:     "path to the CODEOWNERS file (default = search the current directory)",
				TakesFile: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return errors.New("missing file paths")
			}
			policy, err := emptyOwnersPolicy(cmd)
			if err != nil {
				return err
			}

			path := cmd.String("codeowners")
			if path == "" {
				if path, err = findCodeOwnersFile("."); err != nil {
					return err
				}
			}

			b, err := os.ReadFile(path) //gosec:disable G304 // Specified by the user.
			if err != nil {
				return fmt.Errorf("failed to read CODEOWNERS file: %w", err)
			}

			rules := codeowners.Parse(ctx, string(b), policy)
			return writeMatches(cmd.Root().Writer, rules, cmd.Args().Slice())
		},
	}
}

// findCodeOwnersFile looks for a "CODEOWNERS" file in all the
// locations which GitHub supports, under the given directory.
func findCodeOwnersFile(dir string) (string, error) {
	for _, p := range codeowners.CandidatePaths {
		path := filepath.Join(dir, filepath.FromSlash(p))
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", errors.New("CODEOWNERS file not found")
}

func writeReport(w io.Writer, r *ownership.Report) error {
	if _, err := fmt.Fprintln(w, r.Message()); err != nil {
		return err
	}

	for _, g := range r.Groups {
		var owners string
		switch g.Kind {
		case groups.Owned:
			owners = strings.Join(tokenStrings(groups.DisplayOrder(g.Owners, r.UserTeams)), " ")
		default:
			owners = "(" + g.Kind.String() + ")"
		}

		status := "pending"
		if g.Approved {
			status = "approved"
		}

		if _, err := fmt.Fprintf(w, "\n%s [%s]\n", owners, status); err != nil {
			return err
		}
		for _, f := range g.Files {
			if _, err := fmt.Fprintf(w, "  %s\n", f.Path); err != nil {
				return err
			}
		}
	}

	return nil
}

func writeMatches(w io.Writer, rules codeowners.Rules, paths []string) error {
	for _, p := range paths {
		m := rules.Resolve(filepath.ToSlash(p))

		owners := strings.Join(tokenStrings(m.Owners.Sorted()), " ")
		switch {
		case !m.Matched:
			owners = "(no matching rule)"
		case m.Unowned:
			owners = "(unowned)"
		case owners == "":
			owners = "(any reviewer)"
		}

		if _, err := fmt.Fprintf(w, "%s\t%s\n", p, owners); err != nil {
			return err
		}
	}
	return nil
}

func tokenStrings(ts []codeowners.Token) []string {
	ss := make([]string, len(ts))
	for i, t := range ts {
		ss[i] = string(t)
	}
	return ss
}
