package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
	"arbor/internal/httputil"
	"arbor/internal/service/streaming"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// messageStub serves a fixed message and counts fetches. The embedded
// interface panics on anything the stream handler should not call.
type messageStub struct {
	convSvc.ChatService

	msg     *conv.Message
	fetches atomic.Int32
}

func (s *messageStub) GetMessage(ctx context.Context, messageID, userID string) (*conv.Message, error) {
	s.fetches.Add(1)
	if s.msg == nil || s.msg.ID != messageID || userID != "user-1" {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	copied := *s.msg
	return &copied, nil
}

func streamRequest(messageID, userID string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/messages/"+messageID+"/stream", nil)
	r.SetPathValue("id", messageID)
	if userID != "" {
		r = httputil.WithUserID(r, userID)
	}
	return r
}

func TestStreamSettledMessageFetchesOnce(t *testing.T) {
	stub := &messageStub{msg: &conv.Message{
		ID:      "msg-1",
		Role:    conv.RoleAssistant,
		Content: "done already",
		Status:  conv.StatusComplete,
	}}
	h := NewStreamHandler(stub, streaming.NewRegistry(), nil, testLogger())

	rec := httptest.NewRecorder()
	h.Stream(rec, streamRequest("msg-1", "user-1"))

	if got := stub.fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, the snapshot read must double as the ownership check", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: "+conv.SSEEventCatchup) {
		t.Errorf("body missing catchup event:\n%s", body)
	}
	if !strings.Contains(body, "event: "+conv.SSEEventComplete) {
		t.Errorf("body missing terminal event for a settled message:\n%s", body)
	}
	if !strings.Contains(body, "done already") {
		t.Errorf("body missing message content:\n%s", body)
	}
}

func TestStreamRejectsForeignMessage(t *testing.T) {
	stub := &messageStub{msg: &conv.Message{
		ID:     "msg-1",
		Status: conv.StatusComplete,
	}}
	h := NewStreamHandler(stub, streaming.NewRegistry(), nil, testLogger())

	rec := httptest.NewRecorder()
	h.Stream(rec, streamRequest("msg-1", "user-2"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if strings.Contains(rec.Body.String(), "event:") {
		t.Error("no SSE frames may be written before the ownership check passes")
	}
}
