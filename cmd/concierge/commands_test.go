package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestClientSendsBearerToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /agent/escalations": `{"escalations":[]}`,
	})

	resp, err := ts.client().get(ctx, "/agent/escalations")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result struct {
		Escalations []conversationView `json:"escalations"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("requests = %+v", ts.requests)
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q", ts.requests[0].Auth)
	}
}

func TestClaimRequestShape(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /agent/claim": `{"claimed":true,"summary":"Conversation with @jane"}`,
	})

	resp, err := ts.client().post(ctx, "/agent/claim", map[string]string{
		"conversation_id": "conv-1",
		"agent_id":        "alice",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result struct {
		Claimed bool   `json:"claimed"`
		Summary string `json:"summary"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !result.Claimed || result.Summary == "" {
		t.Fatalf("result = %+v", result)
	}

	var sent map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sent); err != nil {
		t.Fatalf("parsing sent body: %v", err)
	}
	if sent["conversation_id"] != "conv-1" || sent["agent_id"] != "alice" {
		t.Errorf("body = %q", ts.requests[0].Body)
	}
	if ts.requests[0].Method != http.MethodPost {
		t.Errorf("method = %s", ts.requests[0].Method)
	}
}

func TestDecodeJSONErrorIncludesBody(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/agent/nope")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var out map[string]any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v", err)
	}
}

func TestConversationDisplayName(t *testing.T) {
	c := conversationView{UserID: 42}
	if got := displayName(c); got != "user 42" {
		t.Errorf("displayName = %q", got)
	}
	c.Username = "jane"
	if got := displayName(c); got != "@jane" {
		t.Errorf("displayName = %q", got)
	}
}
