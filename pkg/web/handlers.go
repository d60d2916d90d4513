package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-live/pkg/session"
	"github.com/teslashibe/go-live/pkg/tools"
)

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	State session.State `json:"state"`
	Stats session.Stats `json:"stats"`
}

// ToolInfo describes an advertised tool.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolsResponse is returned by GET /api/tools.
type ToolsResponse struct {
	Tools       []ToolInfo         `json:"tools"`
	Invocations []tools.Invocation `json:"invocations"`
}

// TextRequest is the body of POST /api/session/text.
type TextRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(StatusResponse{
		State: s.sess.State(),
		Stats: s.sess.Stats(),
	})
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	return c.JSON(s.sess.Transcript())
}

func (s *Server) handleTools(c *fiber.Ctx) error {
	resp := ToolsResponse{Invocations: s.sess.Invocations()}
	for _, t := range s.sess.Tools() {
		resp.Tools = append(resp.Tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	if resp.Invocations == nil {
		resp.Invocations = []tools.Invocation{}
	}
	return c.JSON(resp)
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	err := s.sess.Start(c.UserContext())
	switch {
	case errors.Is(err, session.ErrAlreadyActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
			"state": s.sess.State(),
		})
	case err != nil:
		s.logger.Warn("start from dashboard failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
			"state": s.sess.State(),
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"state": s.sess.State()})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.sess.Stop(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"state": s.sess.State()})
}

func (s *Server) handleText(c *fiber.Ctx) error {
	var req TextRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	err := s.sess.SendText(c.UserContext(), req.Text)
	switch {
	case errors.Is(err, session.ErrEmptyText):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, session.ErrNotLive), errors.Is(err, session.ErrSessionClosed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
			"state": s.sess.State(),
		})
	case err != nil:
		s.logger.Warn("text from dashboard failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"state": s.sess.State()})
}
