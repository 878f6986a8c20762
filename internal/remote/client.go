package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// PostParams is the request body for creating or updating a remote post.
type PostParams struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	AuthorID int64  `json:"author_id"`
}

// PostFields is the canonical identity the service hands back after a
// create or update. Validated at the boundary: a schema violation is a
// server-class error, never a crash.
type PostFields struct {
	RemoteID int64  `json:"id"`
	Status   string `json:"status"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Link     string `json:"link"`
}

// Validate checks the minimum schema the engine relies on.
func (f PostFields) Validate() error {
	if f.RemoteID <= 0 {
		return fmt.Errorf("missing post id")
	}
	if strings.TrimSpace(f.Status) == "" {
		return fmt.Errorf("missing post status")
	}
	return nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Doer abstracts the HTTP transport so tests can inject a fake.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// API is the slice of the remote service the sync engine consumes.
type API interface {
	CreatePost(ctx context.Context, siteID int64, params PostParams) (PostFields, error)
	UpdatePost(ctx context.Context, siteID, remoteID int64, params PostParams) (PostFields, error)
}

// Client talks to the CMS REST API.
type Client struct {
	http    Doer
	baseURL string
	token   string
	log     zerolog.Logger
}

// NewClient creates a client for the given endpoint.
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		log:     log,
	}
}

// SetHTTPClient swaps the transport; nil restores the default.
func (c *Client) SetHTTPClient(client Doer) {
	if client == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
		return
	}
	c.http = client
}

// CreatePost creates the post remotely and returns its canonical fields.
func (c *Client) CreatePost(ctx context.Context, siteID int64, params PostParams) (PostFields, error) {
	path := fmt.Sprintf("/sites/%d/posts", siteID)
	return c.send(ctx, path, params)
}

// UpdatePost pushes new content for an already-created post.
func (c *Client) UpdatePost(ctx context.Context, siteID, remoteID int64, params PostParams) (PostFields, error) {
	path := fmt.Sprintf("/sites/%d/posts/%d", siteID, remoteID)
	return c.send(ctx, path, params)
}

func (c *Client) send(ctx context.Context, path string, params PostParams) (PostFields, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return PostFields{}, &Error{Kind: KindClient, Message: "encoding request body", cause: err}
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return PostFields{}, &Error{Kind: KindClient, Message: "building request", cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "draftsync/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport-level failures mean no network path to the service.
		return PostFields{}, &Error{Kind: KindConnectivity, Message: err.Error(), cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PostFields{}, &Error{Kind: KindConnectivity, Message: "reading response", cause: err}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return PostFields{}, &Error{
			Kind:       KindServer,
			StatusCode: resp.StatusCode,
			Message:    serverMessage(respBody, resp.Status),
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return PostFields{}, &Error{
			Kind:       KindClient,
			StatusCode: resp.StatusCode,
			Message:    serverMessage(respBody, resp.Status),
		}
	}

	var fields PostFields
	if err := json.Unmarshal(respBody, &fields); err != nil {
		return PostFields{}, &Error{
			Kind:       KindServer,
			StatusCode: resp.StatusCode,
			Message:    "malformed response body",
			cause:      err,
		}
	}
	if err := fields.Validate(); err != nil {
		return PostFields{}, &Error{
			Kind:       KindServer,
			StatusCode: resp.StatusCode,
			Message:    err.Error(),
		}
	}

	return fields, nil
}

func serverMessage(body []byte, fallback string) string {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		if msg := strings.TrimSpace(parsed.Error); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(parsed.Message); msg != "" {
			return msg
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return fallback
}
