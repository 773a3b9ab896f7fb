// Package issuespoller polls the profile-graph issue tracker and maps
// issues into project signals: an issue assigned to a tracked project
// becomes evidence of project activity. Issue priority and churn are not
// tracked. The tracker protocol is out of scope; GitHub is the wired
// provider.
package issuespoller

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v69/github"

	"github.com/jamesgiroux/dailyos-core/internal/opstate"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
)

const pollNamespace = "issues_poll"

// Issue is the typed record the poller delivers.
type Issue struct {
	Number    int
	Title     string
	State     string
	Labels    []string
	Assignee  string
	UpdatedAt time.Time
	URL       string
}

// Emitter records a signal and runs propagation on it.
type Emitter interface {
	Emit(kind signalbus.EntityKind, entityID, signalType string, source signalbus.Source, value string, confidence float64, halfLifeDays float64) (signalbus.Signal, error)
}

// Config identifies the repository to poll.
type Config struct {
	Token string
	Owner string
	Repo  string
}

// Poller fetches recently updated issues and emits project signals.
type Poller struct {
	cfg     Config
	client  *github.Client
	state   *opstate.Store
	emitter Emitter
	logger  *slog.Logger
}

// NewPoller creates an issues poller.
func NewPoller(cfg Config, httpClient *http.Client, state *opstate.Store, emitter Emitter, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	client := github.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	return &Poller{cfg: cfg, client: client, state: state, emitter: emitter, logger: logger}
}

// Poll fetches issues updated since the stored high-water mark and
// emits a project_activity signal per mapped project slug. Returns the
// fetched issues for the caller's own use.
func (p *Poller) Poll(ctx context.Context) ([]Issue, error) {
	stateKey := p.cfg.Owner + "/" + p.cfg.Repo
	since := p.loadSince(stateKey)

	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Since:       since,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 50},
	}
	ghIssues, resp, err := p.client.Issues.ListByRepo(ctx, p.cfg.Owner, p.cfg.Repo, opts)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	p.checkRate(resp)

	var out []Issue
	newest := since
	for _, gi := range ghIssues {
		if gi.IsPullRequest() {
			continue
		}
		issue := mapIssue(gi)
		out = append(out, issue)
		if issue.UpdatedAt.After(newest) {
			newest = issue.UpdatedAt
		}
		p.emitProjectSignal(issue)
	}

	if newest.After(since) {
		if err := p.state.Set(pollNamespace, stateKey, strconv.FormatInt(newest.Unix(), 10)); err != nil {
			p.logger.Warn("issues high-water mark save failed", "error", err)
		}
	}
	p.logger.Debug("issues poll complete", "issues", len(out))
	return out, nil
}

// emitProjectSignal maps an issue's project label ("project:<slug>") to
// a project_activity signal.
func (p *Poller) emitProjectSignal(issue Issue) {
	for _, label := range issue.Labels {
		slug, ok := strings.CutPrefix(label, "project:")
		if !ok {
			continue
		}
		value := fmt.Sprintf(`{"issue":%d,"title":%q,"state":%q}`, issue.Number, issue.Title, issue.State)
		if _, err := p.emitter.Emit(signalbus.EntityProject, slug, "project_activity",
			signalbus.SourceIssueTracker, value, 0.7, 0); err != nil {
			p.logger.Warn("project signal emit failed", "project", slug, "error", err)
		}
	}
}

func (p *Poller) loadSince(stateKey string) time.Time {
	stored, err := p.state.Get(pollNamespace, stateKey)
	if err != nil || stored == "" {
		return time.Now().UTC().AddDate(0, 0, -7)
	}
	unix, err := strconv.ParseInt(stored, 10, 64)
	if err != nil {
		return time.Now().UTC().AddDate(0, 0, -7)
	}
	return time.Unix(unix, 0).UTC()
}

// checkRate logs when the API rate limit is close to exhaustion.
func (p *Poller) checkRate(resp *github.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Remaining > 0 && resp.Rate.Remaining < 100 {
		p.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time)
	}
}

func mapIssue(gi *github.Issue) Issue {
	issue := Issue{
		Number: gi.GetNumber(),
		Title:  gi.GetTitle(),
		State:  gi.GetState(),
		URL:    gi.GetHTMLURL(),
	}
	if gi.UpdatedAt != nil {
		issue.UpdatedAt = gi.UpdatedAt.Time.UTC()
	}
	if gi.Assignee != nil {
		issue.Assignee = gi.Assignee.GetLogin()
	}
	for _, l := range gi.Labels {
		issue.Labels = append(issue.Labels, l.GetName())
	}
	return issue
}
