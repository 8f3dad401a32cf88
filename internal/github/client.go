package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	gogithub "github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"

	"github.com/p-dazzeo/realm/internal/apperr"
)

const maxRedirects = 5

// Archive is a downloaded repository snapshot.
type Archive struct {
	Filename string
	Data     []byte
}

// Source exposes the subset of GitHub functionality the upload service needs.
type Source interface {
	FetchTarball(ctx context.Context, owner, repo, ref string) (*Archive, error)
}

// Client is the default implementation backed by the GitHub REST API.
type Client struct {
	client   *gogithub.Client
	http     *http.Client
	maxBytes int64
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points API calls at a GitHub Enterprise or test server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		if u, err := url.Parse(baseURL); err == nil {
			c.client.BaseURL = u
		}
	}
}

// NewClient creates a GitHub client. An empty token makes anonymous requests.
// Downloads larger than maxBytes are rejected when maxBytes is positive.
func NewClient(token string, maxBytes int64, opts ...Option) *Client {
	httpClient := http.DefaultClient
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	c := &Client{
		client:   gogithub.NewClient(httpClient),
		http:     httpClient,
		maxBytes: maxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchTarball downloads the gzip tarball of repo at ref. An empty ref
// selects the default branch.
func (c *Client) FetchTarball(ctx context.Context, owner, repo, ref string) (*Archive, error) {
	const op = "github.fetch_tarball"
	if owner == "" || repo == "" {
		return nil, apperr.Validation("owner and repo are required")
	}

	var getOpts *gogithub.RepositoryContentGetOptions
	if ref != "" {
		getOpts = &gogithub.RepositoryContentGetOptions{Ref: ref}
	}
	link, resp, err := c.client.Repositories.GetArchiveLink(ctx, owner, repo, gogithub.Tarball, getOpts, maxRedirects)
	if err != nil {
		if isNotFound(err) || (resp != nil && resp.StatusCode == http.StatusNotFound) {
			return nil, apperr.NotFound("repository", owner+"/"+repo)
		}
		return nil, apperr.Upstream(op, "could not resolve repository archive", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.String(), nil)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	download, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Upstream(op, "repository download failed", err)
	}
	defer download.Body.Close()

	if download.StatusCode != http.StatusOK {
		return nil, apperr.Upstream(op, fmt.Sprintf("repository download returned HTTP %d", download.StatusCode), nil)
	}
	if c.maxBytes > 0 && download.ContentLength > c.maxBytes {
		return nil, apperr.Extraction(op, "repository archive exceeds maximum project size", apperr.ErrSizeLimitExceeded)
	}

	var body io.Reader = download.Body
	if c.maxBytes > 0 {
		body = io.LimitReader(download.Body, c.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, apperr.Upstream(op, "repository download interrupted", err)
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil, apperr.Extraction(op, "repository archive exceeds maximum project size", apperr.ErrSizeLimitExceeded)
	}

	return &Archive{Filename: repo + ".tar.gz", Data: data}, nil
}

func isNotFound(err error) bool {
	var ghErr *gogithub.ErrorResponse
	if !errors.As(err, &ghErr) {
		return false
	}
	return ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}
