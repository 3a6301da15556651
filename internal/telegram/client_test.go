package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	c := NewClient("TOKEN", WithBaseURL(srv.URL))
	err := c.SendMessage(context.Background(), 123, "hello", QuickReplies([]string{"a", "b"}))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if gotPath != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["chat_id"].(float64) != 123 {
		t.Errorf("chat_id = %v", gotBody["chat_id"])
	}
	if gotBody["text"] != "hello" {
		t.Errorf("text = %v", gotBody["text"])
	}
	markup, ok := gotBody["reply_markup"].(map[string]any)
	if !ok {
		t.Fatalf("reply_markup missing: %v", gotBody)
	}
	rows, ok := markup["keyboard"].([]any)
	if !ok || len(rows) != 2 {
		t.Errorf("keyboard rows = %v", markup["keyboard"])
	}
	if markup["one_time_keyboard"] != true {
		t.Errorf("one_time_keyboard = %v", markup["one_time_keyboard"])
	}
}

func TestSendMessage_NoMarkupOmitted(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient("TOKEN", WithBaseURL(srv.URL))
	if err := c.SendMessage(context.Background(), 1, "hi", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if _, present := gotBody["reply_markup"]; present {
		t.Errorf("reply_markup should be omitted when nil: %v", gotBody)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found","error_code":400}`))
	}))
	defer srv.Close()

	c := NewClient("TOKEN", WithBaseURL(srv.URL))
	err := c.SendMessage(context.Background(), 1, "hi", nil)
	if err == nil {
		t.Fatal("expected error on ok=false")
	}
	if got := err.Error(); got != "sendMessage failed: Bad Request: chat not found (code 400)" {
		t.Errorf("error = %q", got)
	}
}

func TestSetWebhook(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer srv.Close()

	c := NewClient("TOKEN", WithBaseURL(srv.URL))
	if err := c.SetWebhook(context.Background(), "https://example.com/webhook/telegram", "s3cret"); err != nil {
		t.Fatalf("SetWebhook: %v", err)
	}
	if gotBody["url"] != "https://example.com/webhook/telegram" {
		t.Errorf("url = %v", gotBody["url"])
	}
	if gotBody["secret_token"] != "s3cret" {
		t.Errorf("secret_token = %v", gotBody["secret_token"])
	}
}

func TestGetWebhookInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true,"result":{"url":"https://example.com/wh","pending_update_count":4}}`))
	}))
	defer srv.Close()

	c := NewClient("TOKEN", WithBaseURL(srv.URL))
	info, err := c.GetWebhookInfo(context.Background())
	if err != nil {
		t.Fatalf("GetWebhookInfo: %v", err)
	}
	if info.URL != "https://example.com/wh" || info.PendingUpdateCount != 4 {
		t.Errorf("info = %+v", info)
	}
}

func TestUpdateDecoding(t *testing.T) {
	raw := `{
		"update_id": 7,
		"callback_query": {
			"id": "cbq1",
			"from": {"id": 42, "first_name": "Jane", "username": "jane"},
			"message": {"message_id": 9, "chat": {"id": 42, "type": "private"}},
			"data": "start_project"
		}
	}`
	var u Update
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if u.Message != nil {
		t.Error("message should be nil for callback updates")
	}
	if u.CallbackQuery == nil || u.CallbackQuery.Data != "start_project" {
		t.Fatalf("callback = %+v", u.CallbackQuery)
	}
	if u.CallbackQuery.From.ID != 42 {
		t.Errorf("from id = %d", u.CallbackQuery.From.ID)
	}
}
