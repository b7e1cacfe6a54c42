// Package github calls the repository dispatch endpoint of the GitHub REST API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v45/github"
	"github.com/kehao95/repo-dispatch-relay/internal/config"
	"github.com/kehao95/repo-dispatch-relay/internal/relay"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	mediaType  = "application/vnd.github+json"
	apiVersion = "2022-11-28"
	userAgent  = "repo-dispatch-relay"

	// dispatchRepo is the organization-wide repository the workflow lives in.
	dispatchRepo = ".github"

	maxErrorBody = 64 << 10
)

// DispatchError is returned for non-2xx dispatch responses. Its message is
// the raw response body.
type DispatchError struct {
	StatusCode int
	Body       string
}

func (e *DispatchError) Error() string {
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("dispatch failed: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return e.Body
}

// Client implements relay.Dispatcher. BaseURL comes from config and may
// point at GitHub Enterprise or an httptest.Server.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *zap.SugaredLogger
}

var _ relay.Dispatcher = (*Client)(nil)

// NewClient returns a client authenticating every request with the configured
// token as a bearer credential.
func NewClient(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) *Client {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHubToken}))
	httpClient.Timeout = cfg.DispatchTimeout
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.APIURL, "/"),
		log:        logger,
	}
}

func (c *Client) dispatchURL(organization string) string {
	return fmt.Sprintf("%s/repos/%s/%s/dispatches", c.baseURL, url.PathEscape(organization), dispatchRepo)
}

// Dispatch sends req to the organization's .github repository. It makes
// exactly one attempt.
func (c *Client) Dispatch(ctx context.Context, organization string, req relay.DispatchRequest) error {
	payload, err := json.Marshal(req.ClientPayload)
	if err != nil {
		return errors.Wrap(err, "encoding client payload")
	}
	raw := json.RawMessage(payload)
	body, err := json.Marshal(gh.DispatchRequestOptions{
		EventType:     req.EventType,
		ClientPayload: &raw,
	})
	if err != nil {
		return errors.Wrap(err, "encoding dispatch request")
	}

	u := c.dispatchURL(organization)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building dispatch request")
	}
	httpReq.Header.Set("Accept", mediaType)
	httpReq.Header.Set("X-GitHub-Api-Version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "dispatching to %s", organization)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.log.Debugw("dispatch accepted", "url", u, "status", resp.StatusCode)
		return nil
	}

	text, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return errors.Wrapf(err, "reading dispatch response (status %d)", resp.StatusCode)
	}
	return &DispatchError{StatusCode: resp.StatusCode, Body: string(text)}
}
