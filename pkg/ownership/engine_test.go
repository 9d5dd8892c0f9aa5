package ownership

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tzrikka/revowners/pkg/approvals"
	"github.com/tzrikka/revowners/pkg/codeowners"
	"github.com/tzrikka/revowners/pkg/groups"
)

type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int

	info       PullRequestInfo
	ownersText string
	hasFile    bool
	files      []groups.File
	reviews    approvals.ReviewState
	rosters    map[string][]string
	failures   map[string]error

	// Optional hook, called at the beginning of every fetch.
	onFetch func(kind string)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:      map[string]int{},
		info:       PullRequestInfo{Author: "bob", BaseBranch: "main"},
		ownersText: "* @org/admins\nsrc/** @org/admins @org/eng\n",
		hasFile:    true,
		files: []groups.File{
			{Digest: "1", Path: "README.md"},
			{Digest: "2", Path: "src/a.js"},
			{Digest: "3", Path: "src/b.js"},
		},
		reviews: approvals.ReviewState{},
		rosters: map[string][]string{
			"admins": {"carol"},
			"eng":    {"alice", "dave"},
		},
		failures: map[string]error{},
	}
}

func (f *fakeSource) record(kind string) error {
	if f.onFetch != nil {
		f.onFetch(kind)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[kind]++
	return f.failures[kind]
}

func (f *fakeSource) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[kind]
}

// update modifies the fake data while background fetches may still be running.
func (f *fakeSource) update(fn func(f *fakeSource)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fn(f)
}

func (f *fakeSource) FetchPullRequest(_ context.Context, _ PullRequest) (PullRequestInfo, error) {
	if err := f.record("info"); err != nil {
		return PullRequestInfo{}, err
	}
	return f.info, nil
}

func (f *fakeSource) FetchOwnershipSpecText(_ context.Context, _, _, _ string) (string, bool, error) {
	if err := f.record("codeowners"); err != nil {
		return "", false, err
	}
	return f.ownersText, f.hasFile, nil
}

func (f *fakeSource) FetchChangedFiles(_ context.Context, _ PullRequest) ([]groups.File, error) {
	if err := f.record("files"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files, nil
}

func (f *fakeSource) FetchReviewStates(_ context.Context, _ PullRequest) (approvals.ReviewState, error) {
	if err := f.record("reviews"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reviews, nil
}

func (f *fakeSource) FetchTeamRoster(_ context.Context, _, slug string) ([]string, error) {
	if err := f.record("roster:" + slug); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rosters[slug], nil
}

type fakeContext struct {
	mu sync.Mutex
	fp Fingerprint

	// Optional: a different fingerprint to return from the N-th call.
	calls    int
	switchAt int
	next     Fingerprint
}

func (c *fakeContext) Fingerprint(context.Context, PullRequest) (Fingerprint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.switchAt > 0 && c.calls >= c.switchAt {
		c.fp = c.next
	}
	return c.fp, nil
}

func (c *fakeContext) set(fp Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fp = fp
}

var testPR = PullRequest{Owner: "org", Repo: "repo", Number: 7}

func newTestEngine(src *fakeSource) (*Engine, *fakeContext) {
	cp := &fakeContext{fp: Fingerprint{Navigation: testPR.URL(), Timeline: "t1", Bucket: 1}}
	return NewEngine(src, cp, codeowners.EmptyOwnersAnyReviewer), cp
}

func TestResolveActive(t *testing.T) {
	src := newFakeSource()
	src.reviews = approvals.ReviewState{"carol": true, "dave": false}
	e, _ := newTestEngine(src)

	r, err := e.Resolve(context.Background(), testPR, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if r.State != Active {
		t.Fatalf("Report.State = %q, want %q", r.State, Active)
	}
	if len(r.Groups) != 2 {
		t.Fatalf("Report.Groups = %v, want 2 groups", r.Groups)
	}

	// Alice (@org/eng) is a co-owner of the src group, which is also owned by
	// @org/admins - who already approved it (carol), so it ranks as "approved".
	if got := r.Groups[0]; got.Owners.Key() != "@org/admins,@org/eng" || got.Priority != groups.UserOwnerApproved || !got.Approved {
		t.Errorf("Report.Groups[0] = %+v, want the approved src group", got)
	}
	if got := r.Groups[1]; got.Owners.Key() != "@org/admins" || got.Priority != groups.OtherApproved {
		t.Errorf("Report.Groups[1] = %+v, want the approved admins group", got)
	}

	want := groups.Status{Received: 2, Required: 2, TotalFiles: 3}
	if r.Status != want {
		t.Errorf("Report.Status = %+v, want %+v", r.Status, want)
	}
	if r.Message() != "2 of 2 required approvals received (3 files)" {
		t.Errorf("Report.Message() = %q", r.Message())
	}
	if !r.UserTeams.Has("@org/eng") {
		t.Errorf("Report.UserTeams = %v, want it to include @org/eng", r.UserTeams)
	}
	if e.Last() != r {
		t.Error("Engine.Last() did not return the latest report")
	}
}

func TestResolveSoleOwnerFirst(t *testing.T) {
	src := newFakeSource()
	src.ownersText = "* @org/admins\n/src/ @org/eng\n"
	src.files = []groups.File{{Path: "a"}, {Path: "b"}, {Path: "c"}, {Path: "src/d"}}
	e, _ := newTestEngine(src)

	r, err := e.Resolve(context.Background(), testPR, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if r.Groups[0].Owners.Key() != "@org/eng" || r.Groups[0].Priority != groups.UserSoleOwnerUnapproved {
		t.Errorf("Report.Groups[0] = %+v, want the @org/eng group with priority 0", r.Groups[0])
	}
}

func TestResolveInactive(t *testing.T) {
	tests := []struct {
		name       string
		ownersText string
		hasFile    bool
	}{
		{name: "no_file"},
		{name: "empty_file", hasFile: true},
		{name: "only_comments", ownersText: "# nothing here\n\n", hasFile: true},
		{name: "only_malformed_lines", ownersText: "!negated @org/admins\n", hasFile: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			src.ownersText, src.hasFile = tt.ownersText, tt.hasFile
			e, _ := newTestEngine(src)

			r, err := e.Resolve(context.Background(), testPR, "alice")
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if r.State != Inactive || len(r.Groups) != 0 {
				t.Errorf("Resolve() = %+v, want an inactive report without groups", r)
			}
			if r.Message() != "No CODEOWNERS file found" {
				t.Errorf("Report.Message() = %q", r.Message())
			}
		})
	}
}

func TestResolveNoFiles(t *testing.T) {
	src := newFakeSource()
	src.files = nil
	e, _ := newTestEngine(src)

	r, err := e.Resolve(context.Background(), testPR, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if r.State != NoFiles || r.Message() != "No files to review" {
		t.Errorf("Resolve() = %+v, want a no-files report", r)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	src := newFakeSource()
	e, _ := newTestEngine(src)
	ctx := context.Background()

	r1, err := e.Resolve(ctx, testPR, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	r2, err := e.Resolve(ctx, testPR, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if r1 != r2 {
		t.Error("Resolve() with an unchanged context returned a different report")
	}
	for _, kind := range []string{"info", "codeowners", "files", "reviews", "roster:admins", "roster:eng"} {
		if n := src.count(kind); n != 1 {
			t.Errorf("%s fetches = %d, want 1", kind, n)
		}
	}
}

func TestResolveKeyStrategies(t *testing.T) {
	src := newFakeSource()
	e, cp := newTestEngine(src)
	ctx := context.Background()

	if _, err := e.Resolve(ctx, testPR, "alice"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// A new time bucket refreshes only the review states.
	cp.set(Fingerprint{Navigation: testPR.URL(), Timeline: "t1", Bucket: 2})
	src.reviews = approvals.ReviewState{"alice": true}
	r, err := e.Resolve(ctx, testPR, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if r.Status.Received != 1 {
		t.Errorf("Report.Status = %+v, want 1 approval received", r.Status)
	}

	// A new timeline refreshes the PR details and files too.
	cp.set(Fingerprint{Navigation: testPR.URL(), Timeline: "t2", Bucket: 2})
	if _, err := e.Resolve(ctx, testPR, "alice"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := map[string]int{"info": 2, "files": 2, "reviews": 3, "codeowners": 1, "roster:eng": 1}
	for kind, n := range want {
		if got := src.count(kind); got != n {
			t.Errorf("%s fetches = %d, want %d", kind, got, n)
		}
	}

	// A different base branch refetches the CODEOWNERS file, but the rosters
	// are per-repository, so they're not refetched for the same owners.
	src.info.BaseBranch = "release"
	cp.set(Fingerprint{Navigation: testPR.URL(), Timeline: "t3", Bucket: 2})
	if _, err := e.Resolve(ctx, testPR, "alice"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := src.count("codeowners"); got != 2 {
		t.Errorf("CODEOWNERS fetches = %d, want 2", got)
	}
	if got := src.count("roster:eng"); got != 1 {
		t.Errorf("roster:eng fetches = %d, want 1", got)
	}
}

func TestResolveStaleContext(t *testing.T) {
	src := newFakeSource()
	e, cp := newTestEngine(src)
	ctx := context.Background()

	first, err := e.Resolve(ctx, testPR, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// The user navigates to a different timeline while the second pass is in progress.
	cp.mu.Lock()
	cp.fp = Fingerprint{Navigation: testPR.URL(), Timeline: "t2"}
	cp.calls, cp.switchAt = 0, 2
	cp.next = Fingerprint{Navigation: testPR.URL(), Timeline: "t3"}
	cp.mu.Unlock()

	if _, err := e.Resolve(ctx, testPR, "alice"); !errors.Is(err, ErrStale) {
		t.Fatalf("Resolve() error = %v, want %v", err, ErrStale)
	}
	if e.Last() != first {
		t.Error("Engine.Last() was overwritten by a stale report")
	}
}

func TestResolveTransientFailure(t *testing.T) {
	src := newFakeSource()
	e, cp := newTestEngine(src)
	ctx := context.Background()

	first, err := e.Resolve(ctx, testPR, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	cp.set(Fingerprint{Navigation: testPR.URL(), Timeline: "t1", Bucket: 2})
	src.failures["reviews"] = errors.New("502 bad gateway")

	_, err = e.Resolve(ctx, testPR, "alice")
	if err == nil || !strings.Contains(err.Error(), "review states") {
		t.Fatalf("Resolve() error = %v, want a review states error", err)
	}
	if e.Last() != first {
		t.Error("Engine.Last() changed after a failed pass")
	}

	// The next trigger retries, and succeeds.
	delete(src.failures, "reviews")
	if _, err := e.Resolve(ctx, testPR, "alice"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := src.count("reviews"); got != 3 {
		t.Errorf("reviews fetches = %d, want 3", got)
	}
	if got := src.count("codeowners"); got != 1 {
		t.Errorf("CODEOWNERS fetches = %d, want 1", got)
	}
}

func TestResolveDegradedRoster(t *testing.T) {
	src := newFakeSource()
	src.failures["roster:eng"] = errors.New("404 not found")
	src.reviews = approvals.ReviewState{"alice": true}
	e, _ := newTestEngine(src)

	r, err := e.Resolve(context.Background(), testPR, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// Alice's membership in @org/eng is unknown, so her approval covers only herself.
	if r.Status.Received != 0 || r.Status.Required != 2 {
		t.Errorf("Report.Status = %+v, want 0 of 2", r.Status)
	}
	for _, o := range r.Owners {
		if o.Token == "@org/admins" && len(o.Members) != 1 {
			t.Errorf("@org/admins members = %v, want [carol]", o.Members)
		}
		if o.Token == "@org/eng" && (len(o.Members) != 1 || o.Members[0] != "@org/eng") {
			t.Errorf("@org/eng members = %v, want a pseudo-team", o.Members)
		}
	}
}

func TestResolveRetriesDegradedRoster(t *testing.T) {
	src := newFakeSource()
	src.failures["roster:eng"] = errors.New("503 service unavailable")
	e, cp := newTestEngine(src)
	ctx := context.Background()

	if _, err := e.Resolve(ctx, testPR, "alice"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// The roster is available again, and alice approves in the next time bucket.
	src.update(func(f *fakeSource) {
		delete(f.failures, "roster:eng")
		f.reviews = approvals.ReviewState{"alice": true}
	})
	cp.set(Fingerprint{Navigation: testPR.URL(), Timeline: "t1", Bucket: 2})

	r, err := e.Resolve(ctx, testPR, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := src.count("roster:eng"); got != 2 {
		t.Errorf("roster:eng fetches = %d, want 2", got)
	}
	if r.Status.Received != 1 {
		t.Errorf("Report.Status = %+v, want 1 approval received", r.Status)
	}

	// A complete directory is cached as usual.
	cp.set(Fingerprint{Navigation: testPR.URL(), Timeline: "t1", Bucket: 3})
	if _, err := e.Resolve(ctx, testPR, "alice"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := src.count("roster:eng"); got != 2 {
		t.Errorf("roster:eng fetches = %d, want 2", got)
	}
}

func TestResolveRosterSurvivesFailedSibling(t *testing.T) {
	src := newFakeSource()
	src.failures["files"] = errors.New("502 bad gateway")

	rosterStarted := make(chan struct{})
	releaseRoster := make(chan struct{})
	var once sync.Once
	src.onFetch = func(kind string) {
		switch kind {
		case "roster:eng":
			once.Do(func() { close(rosterStarted) })
			<-releaseRoster
		case "files":
			<-rosterStarted
		}
	}

	e, cp := newTestEngine(src)
	ctx := context.Background()

	// The changed files fail while the roster is still being fetched.
	_, err := e.Resolve(ctx, testPR, "alice")
	if err == nil || !strings.Contains(err.Error(), "changed files") {
		t.Fatalf("Resolve() error = %v, want a changed files error", err)
	}
	close(releaseRoster)

	src.update(func(f *fakeSource) {
		delete(f.failures, "files")
		f.reviews = approvals.ReviewState{"alice": true}
	})
	cp.set(Fingerprint{Navigation: testPR.URL(), Timeline: "t1", Bucket: 2})

	r, err := e.Resolve(ctx, testPR, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for _, g := range r.Groups {
		if g.Owners.Has("@org/eng") && !g.Approved {
			t.Errorf("Report.Groups = %+v, want the @org/eng group to be approved", r.Groups)
		}
	}
	if r.Status.Received != 1 {
		t.Errorf("Report.Status = %+v, want 1 approval received", r.Status)
	}
	if got := src.count("roster:eng"); got != 1 {
		t.Errorf("roster:eng fetches = %d, want 1", got)
	}
}

func TestResolveFetchesConcurrently(t *testing.T) {
	src := newFakeSource()

	var wg sync.WaitGroup
	wg.Add(3)
	allStarted := make(chan struct{})
	go func() {
		wg.Wait()
		close(allStarted)
	}()

	var mu sync.Mutex
	timedOut := false
	src.onFetch = func(kind string) {
		if kind != "codeowners" && kind != "files" && kind != "reviews" {
			return
		}
		wg.Done()
		select {
		case <-allStarted:
		case <-time.After(5 * time.Second):
			mu.Lock()
			timedOut = true
			mu.Unlock()
		}
	}

	e, _ := newTestEngine(src)
	if _, err := e.Resolve(context.Background(), testPR, "alice"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if timedOut {
		t.Error("independent fetches were not issued concurrently")
	}
}

func TestReportJSON(t *testing.T) {
	src := newFakeSource()
	e, _ := newTestEngine(src)

	r, err := e.Resolve(context.Background(), testPR, "alice")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	var got struct {
		State  string `json:"state"`
		Groups []struct {
			Owners []string `json:"owners"`
		} `json:"groups"`
		Status struct {
			Required int `json:"required"`
		} `json:"status"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	if got.State != "active" || got.Status.Required != 2 || len(got.Groups) != 2 {
		t.Fatalf("JSON report = %s", b)
	}
	// The user's own team comes first.
	if owners := got.Groups[0].Owners; len(owners) != 2 || owners[0] != "@org/eng" {
		t.Errorf("JSON report group owners = %v, want @org/eng first", owners)
	}
}

func TestClockContext(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	timeline := 3
	c := ClockContext{
		Now:      func() time.Time { return now },
		Timeline: func(PullRequest) (int, error) { return timeline, nil },
	}

	a, err := c.Fingerprint(context.Background(), testPR)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if a.Navigation != "https://github.com/org/repo/pull/7" {
		t.Errorf("Fingerprint().Navigation = %q", a.Navigation)
	}

	now = now.Add(10 * time.Second)
	b, _ := c.Fingerprint(context.Background(), testPR)
	if a != b {
		t.Errorf("Fingerprint() = %+v and %+v, want equal within a time window", a, b)
	}

	now = now.Add(time.Minute)
	timeline++
	c2, _ := c.Fingerprint(context.Background(), testPR)
	if c2.Bucket == a.Bucket || c2.Timeline == a.Timeline {
		t.Errorf("Fingerprint() = %+v, want a new bucket and timeline", c2)
	}
	if a.SameContext(c2) {
		t.Error("Fingerprint.SameContext() = true, want false")
	}
}
