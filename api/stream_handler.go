package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/sse"
	"github.com/papercomputeco/coach/pkg/stream"
	"github.com/papercomputeco/coach/pkg/worker"
)

// handleChatStream serves the streaming completion contract: "delta" events
// carrying text fragments, then exactly one "done" or "error" event.
func (s *Server) handleChatStream(c *fiber.Ctx) error {
	var req llm.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	if len(req.Messages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "messages required"})
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != llm.RoleUser || strings.TrimSpace(last.Content) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "last message must be a non-empty user message"})
	}
	for _, m := range req.Messages {
		if !m.Role.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid message role: " + string(m.Role)})
		}
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = s.newID()
		s.logger.Debug("assigned thread id", zap.String("thread_id", threadID))
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	// fasthttp recycles the request context once the handler returns, so the
	// completion runs on its own context and writes through a pipe that
	// fasthttp drains chunk by chunk.
	pr, pw := io.Pipe()
	s.streams.Add(1)
	go s.streamCompletion(threadID, req.Messages, pw)
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

func (s *Server) streamCompletion(threadID string, messages []llm.Message, pw *io.PipeWriter) {
	defer s.streams.Done()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := sse.NewWriter(pw)
	started := time.Now()

	var (
		content  strings.Builder
		writeErr error
	)
	_, err := s.upstream.Stream(ctx, &stream.Request{ThreadID: threadID, Messages: messages}, func(text string) {
		if writeErr != nil {
			return
		}
		content.WriteString(text)
		if writeErr = writeJSONEvent(w, llm.EventDelta, llm.DeltaPayload{Text: text}); writeErr != nil {
			// The client went away; stop the upstream.
			cancel()
		}
	})

	if writeErr != nil {
		s.logger.Debug("chat stream client disconnected",
			zap.String("thread_id", threadID),
			zap.Error(writeErr),
		)
		return
	}

	if err != nil {
		s.logger.Error("upstream completion failed",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
		_ = writeJSONEvent(w, llm.EventError, llm.ErrorResponse{Error: publicError(err)})
		return
	}

	if err := writeJSONEvent(w, llm.EventDone, llm.DonePayload{ThreadID: threadID}); err != nil {
		s.logger.Debug("failed to write done event", zap.String("thread_id", threadID), zap.Error(err))
		return
	}

	s.enqueueExchange(threadID, messages[len(messages)-1].Content, content.String(), started)
}

func (s *Server) enqueueExchange(threadID, userText, assistantText string, started time.Time) {
	if s.pool == nil {
		return
	}

	s.pool.Enqueue(worker.Job{
		ThreadID:    threadID,
		Provider:    s.config.Provider,
		User:        worker.Turn{ID: s.newID(), Content: userText},
		Assistant:   worker.Turn{ID: s.newID(), Content: assistantText},
		StartedAt:   started,
		CompletedAt: time.Now(),
	})
}

func writeJSONEvent(w *sse.Writer, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.Write(&sse.Event{Type: eventType, Data: string(data)})
}

// publicError maps upstream failures to a message safe to show to clients.
func publicError(err error) string {
	var remote *stream.RemoteError
	switch {
	case errors.As(err, &remote):
		return remote.Message
	case errors.Is(err, stream.ErrTruncated):
		return "upstream stream ended early"
	case errors.Is(err, stream.ErrCircuitOpen):
		return "upstream unavailable"
	default:
		return "upstream request failed"
	}
}
