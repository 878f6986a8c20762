package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
)

type fakeDoer struct {
	lastRequest *http.Request
	lastBody    []byte
	response    *http.Response
	err         error
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.lastRequest = req
	if req.Body != nil {
		f.lastBody, _ = io.ReadAll(req.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(doer Doer) *Client {
	client := NewClient("https://api.example.com/v1", "secret-token", zerolog.Nop())
	client.SetHTTPClient(doer)
	return client
}

func TestClient_CreatePostShapesRequest(t *testing.T) {
	doer := &fakeDoer{response: jsonResponse(http.StatusCreated,
		`{"id": 501, "status": "draft", "title": "title-b", "content": "body", "link": "https://example.com/?p=501"}`)}
	client := newTestClient(doer)

	fields, err := client.CreatePost(context.Background(), 7, PostParams{
		Title:    "title-b",
		Content:  "body",
		Status:   "draft",
		AuthorID: 3,
	})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}

	if fields.RemoteID != 501 {
		t.Fatalf("expected remote id 501, got %d", fields.RemoteID)
	}
	if doer.lastRequest.URL.String() != "https://api.example.com/v1/sites/7/posts" {
		t.Fatalf("unexpected url %s", doer.lastRequest.URL)
	}
	if got := doer.lastRequest.Header.Get("Authorization"); got != "Bearer secret-token" {
		t.Fatalf("unexpected auth header %q", got)
	}

	var sent PostParams
	if err := json.Unmarshal(doer.lastBody, &sent); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if sent.Title != "title-b" || sent.AuthorID != 3 {
		t.Fatalf("unexpected request body: %+v", sent)
	}
}

func TestClient_UpdatePostTargetsExistingPost(t *testing.T) {
	doer := &fakeDoer{response: jsonResponse(http.StatusOK,
		`{"id": 501, "status": "publish", "title": "t", "content": "c"}`)}
	client := newTestClient(doer)

	if _, err := client.UpdatePost(context.Background(), 7, 501, PostParams{Title: "t"}); err != nil {
		t.Fatalf("update post: %v", err)
	}
	if doer.lastRequest.URL.String() != "https://api.example.com/v1/sites/7/posts/501" {
		t.Fatalf("unexpected url %s", doer.lastRequest.URL)
	}
}

func TestClient_TransportFailureIsConnectivity(t *testing.T) {
	doer := &fakeDoer{err: errors.New("dial tcp: no route to host")}
	client := newTestClient(doer)

	_, err := client.CreatePost(context.Background(), 1, PostParams{})
	kind, ok := KindOf(err)
	if !ok || kind != KindConnectivity {
		t.Fatalf("expected connectivity error, got %v", err)
	}

	var rerr *Error
	if !errors.As(err, &rerr) || !rerr.Retryable() {
		t.Fatalf("connectivity failures must be retryable: %v", err)
	}
}

func TestClient_ServerErrorsAreRetryable(t *testing.T) {
	doer := &fakeDoer{response: jsonResponse(http.StatusBadGateway, `{"error": "upstream exploded"}`)}
	client := newTestClient(doer)

	_, err := client.CreatePost(context.Background(), 1, PostParams{})
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if rerr.Kind != KindServer || rerr.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected classification: %+v", rerr)
	}
	if rerr.Message != "upstream exploded" {
		t.Fatalf("expected server message extracted, got %q", rerr.Message)
	}
	if !rerr.Retryable() {
		t.Fatalf("server errors must be retryable")
	}
}

func TestClient_ClientErrorsAreTerminal(t *testing.T) {
	doer := &fakeDoer{response: jsonResponse(http.StatusBadRequest, `{"message": "title is required"}`)}
	client := newTestClient(doer)

	_, err := client.CreatePost(context.Background(), 1, PostParams{})
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if rerr.Kind != KindClient || rerr.Retryable() {
		t.Fatalf("4xx must be terminal: %+v", rerr)
	}
	if rerr.Message != "title is required" {
		t.Fatalf("expected message extracted, got %q", rerr.Message)
	}
}

func TestClient_MalformedResponseIsServerError(t *testing.T) {
	doer := &fakeDoer{response: jsonResponse(http.StatusOK, `{"id": not-json`)}
	client := newTestClient(doer)

	_, err := client.CreatePost(context.Background(), 1, PostParams{})
	kind, ok := KindOf(err)
	if !ok || kind != KindServer {
		t.Fatalf("malformed body must classify as server error, got %v", err)
	}
}

func TestClient_SchemaViolationIsServerError(t *testing.T) {
	doer := &fakeDoer{response: jsonResponse(http.StatusOK, `{"status": "draft"}`)}
	client := newTestClient(doer)

	_, err := client.CreatePost(context.Background(), 1, PostParams{})
	kind, ok := KindOf(err)
	if !ok || kind != KindServer {
		t.Fatalf("missing id must classify as server error, got %v", err)
	}
}
