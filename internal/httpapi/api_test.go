package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/parley/chat-server/internal/chat"
	"github.com/parley/chat-server/internal/ratelimit"
)

type fakeSender struct {
	lastFrom, lastTo, lastBody string
	fail                       error
}

func (s *fakeSender) Send(ctx context.Context, senderID, recipientID, body string) (*chat.Message, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	trimmed, err := chat.ValidateBody(body)
	if err != nil {
		return nil, err
	}
	s.lastFrom, s.lastTo, s.lastBody = senderID, recipientID, trimmed
	return &chat.Message{
		ID:          1,
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        trimmed,
		CreatedAt:   time.Unix(1700000000, 0),
	}, nil
}

type fakeHistorian struct {
	msgs      []chat.Message
	lastA     string
	lastB     string
	lastAfter int64
	fail      error
}

func (h *fakeHistorian) HistorySince(ctx context.Context, userA, userB string, afterID int64) ([]chat.Message, error) {
	if h.fail != nil {
		return nil, h.fail
	}
	h.lastA, h.lastB, h.lastAfter = userA, userB, afterID
	out := make([]chat.Message, 0)
	for _, m := range h.msgs {
		if m.ID > afterID {
			out = append(out, m)
		}
	}
	return out, nil
}

type denyGate struct{}

func (denyGate) Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error) {
	return false, nil
}

func TestHistoryReturnsOrderedMessages(t *testing.T) {
	store := &fakeHistorian{msgs: []chat.Message{
		{ID: 1, SenderID: "u1", RecipientID: "u2", Body: "hi"},
		{ID: 2, SenderID: "u2", RecipientID: "u1", Body: "hello"},
	}}
	api := New(&fakeSender{}, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/history?user_a=u1&user_b=u2", nil)
	rec := httptest.NewRecorder()
	api.handleHistory(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var msgs []chat.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != 1 || msgs[1].ID != 2 {
		t.Errorf("messages out of order: %+v", msgs)
	}
	if store.lastA != "u1" || store.lastB != "u2" {
		t.Errorf("unexpected pair passed to store: %q/%q", store.lastA, store.lastB)
	}
}

func TestHistoryAfterCursor(t *testing.T) {
	store := &fakeHistorian{msgs: []chat.Message{
		{ID: 1, Body: "old"},
		{ID: 5, Body: "new"},
	}}
	api := New(&fakeSender{}, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/history?user_a=u1&user_b=u2&after=3", nil)
	rec := httptest.NewRecorder()
	api.handleHistory(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var msgs []chat.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != 5 {
		t.Errorf("expected only messages after the cursor, got %+v", msgs)
	}
	if store.lastAfter != 3 {
		t.Errorf("expected after=3 passed to store, got %d", store.lastAfter)
	}
}

func TestHistoryEmptyConversationIsEmptyArray(t *testing.T) {
	api := New(&fakeSender{}, &fakeHistorian{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/history?user_a=u1&user_b=u2", nil)
	rec := httptest.NewRecorder()
	api.handleHistory(rec, req)

	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("expected empty JSON array, got %q", got)
	}
}

func TestHistoryRequiresBothUsers(t *testing.T) {
	api := New(&fakeSender{}, &fakeHistorian{}, nil)

	for _, url := range []string{"/history", "/history?user_a=u1", "/history?user_b=u2"} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		api.handleHistory(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", url, rec.Code)
		}
	}
}

func TestHistoryRejectsBadCursor(t *testing.T) {
	api := New(&fakeSender{}, &fakeHistorian{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/history?user_a=u1&user_b=u2&after=xyz", nil)
	rec := httptest.NewRecorder()
	api.handleHistory(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric cursor, got %d", rec.Code)
	}
}

func TestHistoryStorageFailure(t *testing.T) {
	store := &fakeHistorian{fail: &chat.StorageError{Op: "history", Err: errors.New("down")}}
	api := New(&fakeSender{}, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/history?user_a=u1&user_b=u2", nil)
	rec := httptest.NewRecorder()
	api.handleHistory(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestPostMessageCreates(t *testing.T) {
	sender := &fakeSender{}
	api := New(sender, &fakeHistorian{}, nil)

	body := `{"from":"u1","to":"u2","body":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	api.handlePostMessage(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var msg chat.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if msg.ID == 0 || msg.Body != "hello" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if sender.lastFrom != "u1" || sender.lastTo != "u2" {
		t.Errorf("unexpected sender/recipient: %q/%q", sender.lastFrom, sender.lastTo)
	}
}

func TestPostMessageRejectsEmptyBody(t *testing.T) {
	api := New(&fakeSender{}, &fakeHistorian{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"from":"u1","to":"u2","body":"   "}`))
	rec := httptest.NewRecorder()
	api.handlePostMessage(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for whitespace-only body, got %d", rec.Code)
	}
}

func TestPostMessageRejectsMissingParticipants(t *testing.T) {
	api := New(&fakeSender{}, &fakeHistorian{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"body":"hi"}`))
	rec := httptest.NewRecorder()
	api.handlePostMessage(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestPostMessageStorageFailureIsNotSilent(t *testing.T) {
	sender := &fakeSender{fail: &chat.StorageError{Op: "append", Err: errors.New("down")}}
	api := New(sender, &fakeHistorian{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"from":"u1","to":"u2","body":"hi"}`))
	rec := httptest.NewRecorder()
	api.handlePostMessage(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("a failed send must surface as an error, got %d", rec.Code)
	}
}

func TestPostMessageMethodNotAllowed(t *testing.T) {
	api := New(&fakeSender{}, &fakeHistorian{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	rec := httptest.NewRecorder()
	api.handlePostMessage(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestRateGateThrottles(t *testing.T) {
	api := New(&fakeSender{}, &fakeHistorian{}, denyGate{})

	req := httptest.NewRequest(http.MethodGet, "/history?user_a=u1&user_b=u2", nil)
	rec := httptest.NewRecorder()
	api.handleHistory(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("history: expected 429, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"from":"u1","to":"u2","body":"hi"}`))
	rec = httptest.NewRecorder()
	api.handlePostMessage(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("post: expected 429, got %d", rec.Code)
	}
}
