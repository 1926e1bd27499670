package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/coach/pkg/llm"
	"github.com/papercomputeco/coach/pkg/storage"
)

// ThreadSummary describes a stored thread in GET /threads.
type ThreadSummary struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ThreadsResponse is the body of GET /threads.
type ThreadsResponse struct {
	Count   int             `json:"count"`
	Threads []ThreadSummary `json:"threads"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleListThreads returns all stored threads, most recently updated first.
func (s *Server) handleListThreads(c *fiber.Ctx) error {
	threads, err := s.storer.Threads(c.Context())
	if err != nil {
		s.logger.Error("failed to list threads", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to list threads"})
	}

	resp := ThreadsResponse{
		Count:   len(threads),
		Threads: make([]ThreadSummary, 0, len(threads)),
	}
	for _, t := range threads {
		resp.Threads = append(resp.Threads, ThreadSummary{
			ID:           t.ID,
			MessageCount: t.MessageCount,
			UpdatedAt:    t.UpdatedAt,
		})
	}

	return c.JSON(resp)
}

// handleThreadMessages returns the ordered transcript of a thread.
func (s *Server) handleThreadMessages(c *fiber.Ctx) error {
	status, err := s.threadMessages(c)
	s.metrics.HistoryRequest(status)
	return err
}

func (s *Server) threadMessages(c *fiber.Ctx) (int, error) {
	threadID := c.Params("id")
	if threadID == "" {
		return fiber.StatusBadRequest, c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "thread id required"})
	}

	records, err := s.storer.List(c.Context(), threadID)
	if err != nil {
		var notFound storage.NotFoundError
		if errors.As(err, &notFound) {
			return fiber.StatusNotFound, c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "thread not found"})
		}

		s.logger.Error("failed to list thread messages",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
		return fiber.StatusInternalServerError, c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "failed to load thread"})
	}

	resp := llm.HistoryResponse{
		ThreadID: threadID,
		Messages: make([]llm.HistoryMessage, 0, len(records)),
	}
	for _, r := range records {
		resp.Messages = append(resp.Messages, llm.HistoryMessage{
			ID:      r.ID,
			Role:    r.Role,
			Content: r.Content,
		})
	}

	return fiber.StatusOK, c.JSON(resp)
}
