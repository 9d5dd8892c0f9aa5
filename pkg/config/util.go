package config

import (
	"log/slog"
	"strings"

	"github.com/tzrikka/revowners/pkg/codeowners"
)

// KVSliceToMap converts a slice of "key=value" strings into a map.
// Invalid entries are logged and skipped.
func KVSliceToMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			slog.Error("invalid key-value pair in configuration", slog.String("kv", kv))
			continue
		}
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return m
}

// TeamRosters converts a slice of "org/team=login login ..." strings into a
// map of team tokens to member logins. Entries which aren't teams are skipped.
func TeamRosters(pairs []string) map[codeowners.Token][]string {
	m := map[codeowners.Token][]string{}
	for k, v := range KVSliceToMap(pairs) {
		if !strings.HasPrefix(k, "@") {
			k = "@" + k
		}
		t := codeowners.ParseToken(k)
		if !t.IsTeam() {
			slog.Error("invalid team name in team rosters configuration", slog.String("team", k))
			continue
		}

		members := []string{}
		for _, login := range strings.Fields(v) {
			members = append(members, strings.TrimPrefix(login, "@"))
		}
		m[t] = members
	}
	return m
}
