package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/kanaridev/KanariBot-Go/bot"
	"github.com/sony/gobreaker"
)

const defaultBaseURL = "https://api.github.com"

// Updater checks the GitHub releases feed for a newer build.
type Updater struct {
	repo    string // "owner/name"
	current string
	baseURL string
	retry   *retryablehttp.Client
	breaker *gobreaker.CircuitBreaker
	logger  bot.Logger
}

// New creates an updater with retry and circuit breaker.
func New(repo, currentVersion string, logger bot.Logger) *Updater {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil

	settings := gobreaker.Settings{
		Name:        "github-releases",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &Updater{
		repo:    strings.TrimSpace(repo),
		current: strings.TrimSpace(currentVersion),
		baseURL: defaultBaseURL,
		retry:   client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// CheckUpdate fetches the latest release and reports whether it is newer
// than the running build.
func (u *Updater) CheckUpdate(ctx context.Context) (*bot.Release, error) {
	if u == nil || u.repo == "" {
		return nil, errors.New("release repo not configured")
	}

	result, err := u.breaker.Execute(func() (interface{}, error) {
		return u.fetchLatest(ctx)
	})
	if err != nil {
		if u.logger != nil {
			u.logger.Debug("release lookup failed", "repo", u.repo, "error", err)
		}
		return nil, err
	}

	release := result.(*bot.Release)
	release.Newer = isNewer(u.current, release.TagName)
	return release, nil
}

func (u *Updater) fetchLatest(ctx context.Context) (*bot.Release, error) {
	url := u.baseURL + "/repos/" + u.repo + "/releases/latest"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := u.retry.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release lookup status %d", resp.StatusCode)
	}

	var payload struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode release payload: %w", err)
	}
	if payload.TagName == "" {
		return nil, errors.New("release payload missing tag_name")
	}

	return &bot.Release{TagName: payload.TagName, URL: payload.HTMLURL}, nil
}

// isNewer treats any published tag different from the running version as
// newer. Dev builds (empty or "dev" version) never report updates.
func isNewer(current, tag string) bool {
	current = strings.TrimPrefix(strings.TrimSpace(current), "v")
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "v")
	if current == "" || current == "dev" || tag == "" {
		return false
	}
	return tag != current
}
