package codeowners

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tzrikka/revowners/internal/logger"
)

// CandidatePaths are the locations where GitHub looks
// for a "CODEOWNERS" file, in order of precedence.
var CandidatePaths = []string{".github/CODEOWNERS", "CODEOWNERS", "docs/CODEOWNERS"}

// EmptyOwnersPolicy determines the meaning of a line
// which has a path pattern but no owners at all.
type EmptyOwnersPolicy int

const (
	// EmptyOwnersAnyReviewer: matching files may be approved by any reviewer.
	EmptyOwnersAnyReviewer EmptyOwnersPolicy = iota
	// EmptyOwnersUnowned: matching files are explicitly unowned, and don't need any approval.
	EmptyOwnersUnowned
	// EmptyOwnersSkip: the line is ignored, so earlier lines may still match these files.
	EmptyOwnersSkip
)

// ParseEmptyOwnersPolicy converts a configuration value into an [EmptyOwnersPolicy].
func ParseEmptyOwnersPolicy(s string) (EmptyOwnersPolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any-reviewer":
		return EmptyOwnersAnyReviewer, true
	case "unowned":
		return EmptyOwnersUnowned, true
	case "skip":
		return EmptyOwnersSkip, true
	default:
		return EmptyOwnersAnyReviewer, false
	}
}

func (p EmptyOwnersPolicy) String() string {
	switch p {
	case EmptyOwnersUnowned:
		return "unowned"
	case EmptyOwnersSkip:
		return "skip"
	default:
		return "any-reviewer"
	}
}

// Rule is a single parsed line of a "CODEOWNERS" file.
type Rule struct {
	Pattern string   // As written in the file.
	Globs   []string // Equivalent doublestar patterns.
	Owners  Set
	Unowned bool // Explicitly unowned, see [EmptyOwnersUnowned].
	Line    int  // 1-based.
}

// Rules are kept in reverse order of their appearance in the file,
// so the FIRST match is the effective one ("last match wins").
type Rules []Rule

// Match is the result of resolving a path against [Rules].
type Match struct {
	Owners  Set
	Matched bool
	Unowned bool
}

// Parse converts the content of a "CODEOWNERS" file into [Rules]. Blank
// lines and comments are ignored. Lines which cannot be parsed are logged
// and skipped without affecting the rest of the file.
func Parse(ctx context.Context, fileContent string, policy EmptyOwnersPolicy) Rules {
	var rs Rules

	n := 0
	for line := range strings.Lines(fileContent) {
		n++
		r, ok := parseLine(line)
		if !ok {
			continue
		}
		r.Line = n

		if len(r.Globs) == 0 {
			logger.FromContext(ctx).Warn("skipping invalid CODEOWNERS line",
				slog.Int("line", n), slog.String("pattern", r.Pattern))
			continue
		}

		if len(r.Owners) == 0 {
			switch policy {
			case EmptyOwnersSkip:
				continue
			case EmptyOwnersUnowned:
				r.Unowned = true
			}
		}

		rs = append(rs, r)
	}

	slices.Reverse(rs) // CODEOWNERS semantics: last match wins.
	return rs
}

// parseLine returns false for blank lines and comments. If the
// pattern is malformed, the returned rule has no globs.
func parseLine(line string) (Rule, bool) {
	line, _, _ = strings.Cut(line, "#")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Rule{}, false
	}

	r := Rule{Pattern: fields[0], Owners: NewSet()}
	for _, f := range fields[1:] {
		r.Owners.Add(ParseToken(f))
	}

	r.Globs = normalizePattern(r.Pattern)
	return r, true
}

// normalizePattern converts a gitignore-style pattern into doublestar patterns
// that match the same file paths, or returns nil if the pattern is not supported.
// Paths are matched without a leading "/".
func normalizePattern(pattern string) []string {
	// Negation and escaped comments are not supported by GitHub in CODEOWNERS files.
	if strings.HasPrefix(pattern, "!") || strings.HasPrefix(pattern, `\`) {
		return nil
	}

	dirOnly := strings.HasSuffix(pattern, "/")
	p := strings.TrimSuffix(pattern, "/")

	// A slash at the beginning or middle anchors the pattern to the repository
	// root, otherwise it may match at any depth (like the name of a file or directory).
	anchored := strings.Contains(p, "/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		p = "**"
	}
	if !anchored && p != "**" {
		p = "**/" + p
	}

	if !doublestar.ValidatePattern(p) {
		return nil
	}

	// Matching a directory implies matching everything under it. Doublestar
	// may need "/*" at the end of a pattern to match files under a directory.
	if dirOnly {
		return []string{p + "/**", p + "/**/*"}
	}
	return []string{p, p + "/**", p + "/**/*"}
}

// Matches reports whether the rule's pattern matches the given file path.
func (r Rule) Matches(filePath string) bool {
	filePath = strings.TrimPrefix(filePath, "/")
	for _, g := range r.Globs {
		if match, err := doublestar.Match(g, filePath); err == nil && match {
			return true
		}
	}
	return false
}

// Resolve returns the owners of the given file path. If no rule matches
// it, the result is unmatched, which is different from a matched rule
// without owners: see [EmptyOwnersPolicy].
func (rs Rules) Resolve(filePath string) Match {
	for _, r := range rs {
		// We reversed the rules after parsing, so the FIRST match wins here.
		if r.Matches(filePath) {
			return Match{Owners: r.Owners, Matched: true, Unowned: r.Unowned}
		}
	}
	return Match{}
}

// Tokens returns all the distinct owners in the rules, sorted.
func (rs Rules) Tokens() []Token {
	all := NewSet()
	for _, r := range rs {
		all.Union(r.Owners)
	}
	return all.Sorted()
}
