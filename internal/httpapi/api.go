// Package httpapi exposes the request/response surface of the chat core:
// history fetches for opening a conversation view and a non-live message
// post for clients without a persistent connection. Both endpoints share
// the WebSocket server's mux.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/parley/chat-server/internal/chat"
	"github.com/parley/chat-server/internal/metrics"
	"github.com/parley/chat-server/internal/ratelimit"
)

// Sender is the send path. Implemented by *router.Router, so a message
// posted over HTTP still fans out to the recipient's live connections.
type Sender interface {
	Send(ctx context.Context, senderID, recipientID, body string) (*chat.Message, error)
}

// Historian serves ordered conversation history. Implemented by *chat.Store.
type Historian interface {
	HistorySince(ctx context.Context, userA, userB string, afterID int64) ([]chat.Message, error)
}

// RateGate throttles callers; nil disables throttling (tests, single-user
// deployments).
type RateGate interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// API bundles the HTTP handlers for the chat core.
type API struct {
	sender Sender
	store  Historian
	gate   RateGate
}

// New creates the API. gate may be nil.
func New(sender Sender, store Historian, gate RateGate) *API {
	return &API{sender: sender, store: store, gate: gate}
}

// Register mounts the API handlers on the mux.
func (a *API) Register(mount func(pattern string, handler http.Handler)) {
	mount("/history", http.HandlerFunc(a.handleHistory))
	mount("/messages", http.HandlerFunc(a.handlePostMessage))
}

// postMessageRequest is the JSON body for POST /messages.
type postMessageRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHistory serves GET /history?user_a=&user_b=[&after=]. The pair is
// unordered: swapping user_a and user_b returns the same messages, in
// ascending creation order. The optional after parameter is the catch-up
// cursor: only messages with a greater id are returned.
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userA := r.URL.Query().Get("user_a")
	userB := r.URL.Query().Get("user_b")
	if userA == "" || userB == "" {
		writeError(w, http.StatusBadRequest, "user_a and user_b are required")
		return
	}

	var afterID int64
	if after := r.URL.Query().Get("after"); after != "" {
		var err error
		afterID, err = strconv.ParseInt(after, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be a message id")
			return
		}
	}

	if !a.allow(r, ratelimit.RuleHistory) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	msgs, err := a.store.HistorySince(r.Context(), userA, userB, afterID)
	if err != nil {
		log.Printf("httpapi: history %s/%s: %v", userA, userB, err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	metrics.HistoryFetches.Inc()

	writeJSON(w, http.StatusOK, msgs)
}

// handlePostMessage serves POST /messages, the fallback send path. It goes
// through the same router as WebSocket sends, so persistence-before-
// delivery and live fan-out behave identically. A failed post returns an
// error status; the caller must not render the message as sent.
func (a *API) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	if !a.allow(r, ratelimit.RuleMessage) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	msg, err := a.sender.Send(r.Context(), req.From, req.To, req.Body)
	if err != nil {
		var verr *chat.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Reason)
			return
		}
		log.Printf("httpapi: post message %s->%s: %v", req.From, req.To, err)
		writeError(w, http.StatusInternalServerError, "message not sent")
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// allow consults the rate gate keyed by client IP. Fails open when no gate
// is configured.
func (a *API) allow(r *http.Request, rule ratelimit.Rule) bool {
	if a.gate == nil {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ok, _ := a.gate.Allow(r.Context(), host, rule)
	return ok
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
