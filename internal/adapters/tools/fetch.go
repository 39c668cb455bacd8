package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
)

const (
	defaultFetchTimeout = 30 * time.Second
	minFetchTimeout     = 5
	maxFetchTimeout     = 120
	maxFetchBody        = 1 << 20
)

func (b *Builtin) webFetch(ctx context.Context, args map[string]any) (any, error) {
	raw, err := requiredString(args, "url")
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalidArg("url", "must be an http or https URL")
	}
	seconds, err := optionalInt(args, "timeout", int(b.opts.FetchTimeout/time.Second))
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(clamp(seconds, minFetchTimeout, maxFetchTimeout)) * time.Second

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "taskforge")

	resp, err := b.opts.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, core.ErrTimeout(core.CodeToolFailed, fmt.Sprintf("fetch timed out after %v", timeout))
		}
		return nil, fmt.Errorf("fetching %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	truncated := len(body) > maxFetchBody
	if truncated {
		body = body[:maxFetchBody]
	}

	return map[string]any{
		"url":          u.Redacted(),
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(body),
		"truncated":    truncated,
	}, nil
}
