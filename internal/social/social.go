// Package social reads and writes the user's GitHub activity. It backs
// the social capabilities and the mention feed in the morning brief.
package social

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v69/github"
)

// Mention is a notification or issue event addressed at the user.
type Mention struct {
	Repo      string     `json:"repo"`
	Title     string     `json:"title"`
	Kind      string     `json:"kind"` // "mention", "assign", "review_requested", ...
	URL       string     `json:"url,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Line renders a mention as a single digest line.
func (m *Mention) Line() string {
	s := fmt.Sprintf("[%s] %s (%s)", m.Repo, m.Title, m.Kind)
	if m.URL != "" {
		s += " — " + m.URL
	}
	return s
}

// Client is the social collaborator interface.
type Client interface {
	// Mentions returns recent unread notifications, newest first.
	Mentions(ctx context.Context, limit int) ([]Mention, error)

	// Post publishes text. Target is either "owner/repo" (opens an
	// issue titled with the first line) or "owner/repo#N" (comments
	// on issue N). Returns the URL of what was created.
	Post(ctx context.Context, target, body string) (string, error)
}

// GitHub implements Client with the go-github SDK.
type GitHub struct {
	client *gogithub.Client
}

// NewGitHub creates an authenticated GitHub social client.
func NewGitHub(token string) *GitHub {
	return &GitHub{client: gogithub.NewClient(nil).WithAuthToken(token)}
}

// checkRateLimit logs a warning when remaining API calls drop below threshold.
func checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Remaining < 100 {
		slog.Warn("social: github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// Mentions lists unread notifications the user participates in.
func (g *GitHub) Mentions(ctx context.Context, limit int) ([]Mention, error) {
	if limit <= 0 {
		limit = 20
	}

	opts := &gogithub.NotificationListOptions{
		Participating: true,
		ListOptions:   gogithub.ListOptions{PerPage: limit},
	}
	notifications, resp, err := g.client.Activity.ListNotifications(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("social: list notifications: %w", err)
	}
	checkRateLimit(resp)

	mentions := make([]Mention, 0, len(notifications))
	for i, n := range notifications {
		if i >= limit {
			break
		}
		m := Mention{
			Repo:  n.GetRepository().GetFullName(),
			Title: n.GetSubject().GetTitle(),
			Kind:  n.GetReason(),
			URL:   htmlURL(n),
		}
		if n.UpdatedAt != nil {
			t := n.UpdatedAt.Time
			m.UpdatedAt = &t
		}
		mentions = append(mentions, m)
	}
	return mentions, nil
}

// htmlURL rewrites a notification's API subject URL into the
// human-facing page. Unknown shapes fall through unchanged.
func htmlURL(n *gogithub.Notification) string {
	u := n.GetSubject().GetURL()
	u = strings.Replace(u, "api.github.com/repos/", "github.com/", 1)
	u = strings.Replace(u, "/pulls/", "/pull/", 1)
	return u
}

// Post opens an issue or comments on one, depending on the target form.
func (g *GitHub) Post(ctx context.Context, target, body string) (string, error) {
	if body == "" {
		return "", fmt.Errorf("social: post body is empty")
	}

	repo, number, err := splitTarget(target)
	if err != nil {
		return "", err
	}
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	if number > 0 {
		comment, resp, err := g.client.Issues.CreateComment(ctx, owner, name, number, &gogithub.IssueComment{
			Body: &body,
		})
		if err != nil {
			return "", fmt.Errorf("social: add comment: %w", err)
		}
		checkRateLimit(resp)
		return comment.GetHTMLURL(), nil
	}

	title, rest := splitFirstLine(body)
	issue, resp, err := g.client.Issues.Create(ctx, owner, name, &gogithub.IssueRequest{
		Title: &title,
		Body:  &rest,
	})
	if err != nil {
		return "", fmt.Errorf("social: create issue: %w", err)
	}
	checkRateLimit(resp)
	return issue.GetHTMLURL(), nil
}

// splitTarget splits "owner/repo#N" into repo and issue number.
// A bare "owner/repo" returns number 0.
func splitTarget(target string) (string, int, error) {
	repo, frag, found := strings.Cut(target, "#")
	if !found {
		return repo, 0, nil
	}
	n, err := strconv.Atoi(frag)
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("social: invalid target %q: expected owner/repo or owner/repo#N", target)
	}
	return repo, n, nil
}

// splitRepo splits a "owner/repo" string into its two parts.
func splitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("social: invalid repo %q: expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// splitFirstLine separates a post body into an issue title and the
// remaining body text.
func splitFirstLine(body string) (string, string) {
	first, rest, found := strings.Cut(body, "\n")
	first = strings.TrimSpace(first)
	if !found {
		return first, ""
	}
	return first, strings.TrimSpace(rest)
}
