package ownership

import (
	"encoding/json"
	"fmt"

	"github.com/tzrikka/revowners/pkg/approvals"
	"github.com/tzrikka/revowners/pkg/codeowners"
	"github.com/tzrikka/revowners/pkg/groups"
	"github.com/tzrikka/revowners/pkg/teams"
)

// State is the overall outcome of resolving a PR's ownership.
type State string

const (
	// Inactive means that the repository doesn't have a (non-empty) "CODEOWNERS" file.
	Inactive State = "inactive"
	// NoFiles means that the PR doesn't have any changed files.
	NoFiles State = "no-files"
	// Active means that the report contains owner groups.
	Active State = "active"
)

// Report is the result of resolving a PR's ownership, from the
// point of view of a specific user. Reports must not be modified,
// because the [Engine] may return the same one to multiple callers.
type Report struct {
	State       State
	PullRequest PullRequest
	BaseBranch  string
	Author      string
	User        string

	Groups    []groups.Group // Sorted by relevance to the user.
	Status    groups.Status
	Owners    []groups.OwnerFlags
	UserTeams codeowners.Set
	Approvers []string

	// Inputs of [Report.Role].
	rules       codeowners.Rules
	personTeams teams.PersonTeams
	files       []groups.File
}

func (r *Report) populate(rules codeowners.Rules, dir teams.Directory, files []groups.File, rs approvals.ReviewState) {
	pt := teams.BuildPersonTeams(dir)
	r.rules, r.personTeams, r.files = rules, pt, files

	approved := approvals.ComputeOwnerApprovals(rs, pt)

	v := groups.Viewer{Login: r.User, Teams: codeowners.NewSet()}
	if r.User != "" {
		v.Teams = pt.Of(r.User)
	}

	r.Groups = groups.GroupFiles(files, rules)
	groups.Rank(r.Groups, approved, v, r.Author)

	r.Status = groups.ApprovalStatus(r.Groups, approved)
	r.Owners = groups.Flags(r.Groups, approved, v, dir.Members)
	r.UserTeams = v.Teams
	r.Approvers = rs.Approvers()
}

// Message is a one-line human-readable summary of the report.
func (r *Report) Message() string {
	switch r.State {
	case Inactive:
		return "No CODEOWNERS file found"
	case NoFiles:
		return "No files to review"
	}

	noun := "files"
	if r.Status.TotalFiles == 1 {
		noun = "file"
	}
	return fmt.Sprintf("%d of %d required approvals received (%d %s)",
		r.Status.Received, r.Status.Required, r.Status.TotalFiles, noun)
}

type groupJSON struct {
	Kind     string             `json:"kind"`
	Owners   []codeowners.Token `json:"owners,omitempty"`
	Files    []groups.File      `json:"files"`
	Approved bool               `json:"approved"`
	Priority int                `json:"priority"`
}

type reportJSON struct {
	State       State               `json:"state"`
	Message     string              `json:"message"`
	PullRequest PullRequest         `json:"pull_request"`
	BaseBranch  string              `json:"base_branch,omitempty"`
	Author      string              `json:"author,omitempty"`
	User        string              `json:"user,omitempty"`
	Status      *groups.Status      `json:"status,omitempty"`
	Groups      []groupJSON         `json:"groups,omitempty"`
	Owners      []groups.OwnerFlags `json:"owners,omitempty"`
	Approvers   []string            `json:"approvers,omitempty"`
}

// MarshalJSON implements the [json.Marshaler] interface. Owner sets are
// rendered as lists, with the user's own teams first.
func (r *Report) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		State:       r.State,
		Message:     r.Message(),
		PullRequest: r.PullRequest,
		BaseBranch:  r.BaseBranch,
		Author:      r.Author,
		User:        r.User,
		Owners:      r.Owners,
		Approvers:   r.Approvers,
	}

	if r.State == Active {
		out.Status = &r.Status
	}

	for _, g := range r.Groups {
		out.Groups = append(out.Groups, groupJSON{
			Kind:     g.Kind.String(),
			Owners:   groups.DisplayOrder(g.Owners, r.UserTeams),
			Files:    g.Files,
			Approved: g.Approved,
			Priority: g.Priority,
		})
	}

	return json.Marshal(out)
}
