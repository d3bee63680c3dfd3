// Package github downloads branch snapshots of public GitHub repositories
// as zip archives.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codereport/internal/domain/archive"
	"github.com/ahrav/codereport/pkg/common"
	"github.com/ahrav/codereport/pkg/common/logger"
)

var _ archive.Fetcher = (*Client)(nil)

const githubHost = "github.com"

// ErrInvalidRepoURL is returned for URLs that do not name a GitHub repository.
var ErrInvalidRepoURL = errors.New("invalid GitHub repository URL")

// StatusError is returned for a non-200 archive response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("downloading %s: unexpected status %d", e.URL, e.StatusCode)
}

// Config tunes the client.
type Config struct {
	// BaseURL replaces https://github.com, used by tests.
	BaseURL string
	// Token is sent as a bearer token when set, for private repositories.
	Token           string
	Timeout         time.Duration
	MaxArchiveBytes int64
	RequestsPerSec  float64
	Burst           int
	MaxRetryElapsed time.Duration
}

// Client is an archive.Fetcher for GitHub branch archives. Requests are
// rate limited, traced and retried on transport errors and 5xx responses.
type Client struct {
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	cfg         Config

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a Client.
func NewClient(cfg Config, logger *logger.Logger, tracer trace.Tracer) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://" + githubHost
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxRetryElapsed <= 0 {
		cfg.MaxRetryElapsed = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		rateLimiter: common.NewRateLimiter(cfg.RequestsPerSec, cfg.Burst),
		cfg:         cfg,
		logger:      logger.With("component", "github_client"),
		tracer:      tracer,
	}
}

// ParseSource accepts https://github.com/{owner}/{repo}[.git][/...] and
// resolves it with branch. An empty branch means main.
func (c *Client) ParseSource(repoURL, branch string) (archive.Source, error) {
	u, err := url.Parse(strings.TrimSpace(repoURL))
	if err != nil {
		return archive.Source{}, fmt.Errorf("%w: %v", ErrInvalidRepoURL, err)
	}
	if !strings.EqualFold(u.Host, githubHost) {
		return archive.Source{}, fmt.Errorf("%w: only %s repositories are supported", ErrInvalidRepoURL, githubHost)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return archive.Source{}, fmt.Errorf("%w: expected https://%s/{owner}/{repo}", ErrInvalidRepoURL, githubHost)
	}

	repo := strings.TrimSuffix(parts[1], ".git")
	if repo == "" {
		return archive.Source{}, fmt.Errorf("%w: empty repository name", ErrInvalidRepoURL)
	}
	if branch = strings.TrimSpace(branch); branch == "" {
		branch = "main"
	}

	return archive.Source{Owner: parts[0], Repo: repo, Branch: branch}, nil
}

// ArchiveURL returns the download URL of src's branch snapshot.
func (c *Client) ArchiveURL(src archive.Source) string {
	return fmt.Sprintf("%s/%s/%s/archive/refs/heads/%s.zip",
		c.cfg.BaseURL, url.PathEscape(src.Owner), url.PathEscape(src.Repo), src.Branch)
}

// Fetch downloads src's branch archive. Responses larger than
// MaxArchiveBytes fail with archive.ErrTooLarge.
func (c *Client) Fetch(ctx context.Context, src archive.Source) ([]byte, error) {
	archiveURL := c.ArchiveURL(src)
	ctx, span := c.tracer.Start(ctx, "github_client.fetch_archive",
		trace.WithAttributes(
			attribute.String("owner", src.Owner),
			attribute.String("repo", src.Repo),
			attribute.String("branch", src.Branch),
		))
	defer span.End()

	var data []byte
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		data, err = c.download(ctx, archiveURL)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn(ctx, "archive download failed, retrying", "url", archiveURL, "attempt", attempt, "error", err)
		return err
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = c.cfg.MaxRetryElapsed

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch archive")
		return nil, err
	}
	span.SetAttributes(attribute.Int("archive_bytes", len(data)), attribute.Int("attempts", attempt))

	return data, nil
}

func (c *Client) download(ctx context.Context, archiveURL string) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive request: %w", err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive request failed: %w", err)
	}
	defer resp.Body.Close()

	c.rateLimiter.UpdateFromHeaders(resp.Header)

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: archiveURL, StatusCode: resp.StatusCode}
	}

	limit := c.cfg.MaxArchiveBytes
	if limit > 0 && resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: %d bytes", archive.ErrTooLarge, resp.ContentLength)
	}

	body := io.Reader(resp.Body)
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading archive body: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", archive.ErrTooLarge, limit)
	}

	return data, nil
}

// retryable reports whether a failed download may succeed if repeated.
// Client errors and oversized archives are permanent.
func retryable(err error) bool {
	if errors.Is(err, archive.ErrTooLarge) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}
