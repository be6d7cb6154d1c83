package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/jasonwaters/icloud-photos-sync/internal/engine"
)

// ErrMFARequired is returned by Authenticate when the service demands a
// second factor. The caller prompts for the code and calls SubmitCode.
var ErrMFARequired = errors.New("multi-factor code required")

// Client talks to the remote photo service over HTTP and satisfies
// engine.Remote. A cookie jar plus a persisted session file carry the
// authenticated state between runs.
type Client struct {
	base        *url.URL
	http        *http.Client
	sessionPath string
	logger      engine.Logger

	mu      sync.Mutex
	session session
}

// NewClient creates a Client for the service at baseURL, restoring any
// previously persisted session from sessionPath.
func NewClient(baseURL, sessionPath string, logger engine.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	sess, err := loadSession(sessionPath)
	if err != nil {
		return nil, err
	}
	restoreCookies(jar, base, sess)

	return &Client{
		base:        base,
		http:        &http.Client{Jar: jar, Timeout: 5 * time.Minute},
		sessionPath: sessionPath,
		logger:      logger,
		session:     sess,
	}, nil
}

// Authenticate performs the password step of the signin handshake. It
// returns ErrMFARequired when the account needs a second factor.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	resp, err := c.postJSON(ctx, "auth/signin", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ErrMFARequired
	}
	if err := classifyStatus("auth/signin", resp.StatusCode); err != nil {
		return err
	}
	return c.adoptTokens(resp)
}

// SubmitCode completes the handshake with the user's MFA code and persists
// the trusted session.
func (c *Client) SubmitCode(ctx context.Context, code string) error {
	resp, err := c.postJSON(ctx, "auth/verify", map[string]string{"code": code})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := classifyStatus("auth/verify", resp.StatusCode); err != nil {
		return err
	}
	return c.adoptTokens(resp)
}

// RefreshSession re-validates the stored session with the service.
// Idempotent; a success rewrites the session file with the fresh cookies.
func (c *Client) RefreshSession(ctx context.Context) error {
	c.mu.Lock()
	trust := c.session.TrustToken
	c.mu.Unlock()

	resp, err := c.postJSON(ctx, "auth/refresh", map[string]string{"trust_token": trust})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := classifyStatus("auth/refresh", resp.StatusCode); err != nil {
		return err
	}
	return c.adoptTokens(resp)
}

// adoptTokens merges the tokens from an auth response into the session and
// persists it together with the jar's current cookies.
func (c *Client) adoptTokens(resp *http.Response) error {
	var tokens struct {
		SessionToken string `json:"session_token"`
		TrustToken   string `json:"trust_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing auth response: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if tokens.SessionToken != "" {
		c.session.SessionToken = tokens.SessionToken
	}
	if tokens.TrustToken != "" {
		c.session.TrustToken = tokens.TrustToken
	}
	c.session.Cookies = snapshotCookies(c.http.Jar, c.base)
	return saveSession(c.sessionPath, c.session)
}

// FetchAssets queries the content and master record streams and joins them
// into the typed asset list.
func (c *Client) FetchAssets(ctx context.Context) ([]engine.Asset, error) {
	contents, err := c.queryRecords(ctx, "CPLAsset")
	if err != nil {
		return nil, err
	}
	masters, err := c.queryRecords(ctx, "CPLMaster")
	if err != nil {
		return nil, err
	}
	return joinAssetRecords(contents.ContentRecords, masters.MasterRecords, c.logger), nil
}

// FetchAlbums queries the album records and projects them, prepending the
// implicit root album.
func (c *Client) FetchAlbums(ctx context.Context) ([]engine.Album, error) {
	resp, err := c.queryRecords(ctx, "CPLAlbum")
	if err != nil {
		return nil, err
	}
	return projectAlbums(resp.AlbumRecords), nil
}

// Download streams the bytes behind an asset's download URL.
func (c *Client) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyErr("download", err)
	}
	if err := classifyStatus("download", resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// queryRecords posts one records/query call for a record type.
func (c *Client) queryRecords(ctx context.Context, recordType string) (*recordResponse, error) {
	op := "records/query " + recordType
	resp, err := c.postJSON(ctx, "records/query", recordQuery{RecordType: recordType})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := classifyStatus(op, resp.StatusCode); err != nil {
		return nil, err
	}

	var records recordResponse
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("parsing %s response: %w", op, err)
	}
	return &records, nil
}

// postJSON sends one JSON request to a service endpoint. The session token,
// when present, rides along as a bearer header.
func (c *Client) postJSON(ctx context.Context, endpoint string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base.JoinPath(endpoint).String(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.mu.Lock()
	if c.session.SessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.session.SessionToken)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyErr(endpoint, err)
	}
	return resp, nil
}

// Compile-time check that Client implements engine.Remote.
var _ engine.Remote = (*Client)(nil)
