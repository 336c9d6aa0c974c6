package web

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-deskman/pkg/actuator"
	"github.com/teslashibe/go-deskman/pkg/assistant"
	"github.com/teslashibe/go-deskman/pkg/hub"
)

func unavailable(c *fiber.Ctx, what string) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": what + " not configured",
	})
}

// handleStatus returns the orchestrator snapshot.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	if s.assistant == nil {
		return unavailable(c, "assistant")
	}
	return c.JSON(s.assistant.Snapshot())
}

// handleStartConversation starts a turn, as the wake word would.
func (s *Server) handleStartConversation(c *fiber.Ctx) error {
	if s.assistant == nil {
		return unavailable(c, "assistant")
	}

	err := s.assistant.RequestConversation()
	switch {
	case errors.Is(err, assistant.ErrBusy):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
			"state": s.assistant.Snapshot().State,
		})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	s.AddLog("state", "conversation requested from dashboard")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

// handleListTools returns the tool descriptors sent to the voice service.
func (s *Server) handleListTools(c *fiber.Ctx) error {
	if s.tools == nil {
		return unavailable(c, "tools")
	}
	return c.JSON(s.tools.Tools())
}

// TriggerToolRequest is the request body for triggering a tool.
type TriggerToolRequest struct {
	Args json.RawMessage `json:"args"`
}

// handleTriggerTool runs a tool manually.
func (s *Server) handleTriggerTool(c *fiber.Ctx) error {
	if s.tools == nil {
		return unavailable(c, "tools")
	}
	name := c.Params("name")

	var req TriggerToolRequest
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}
	args := string(req.Args)
	if args == "" || args == "null" {
		args = "{}"
	}

	result, err := s.tools.Dispatch(name, args)
	switch {
	case errors.Is(err, actuator.ErrUnknownFunction):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, actuator.ErrBadArguments):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		s.AddLog("error", "Manual: "+name+" failed: "+err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	s.AddLog("tool", "Manual: "+name+" → "+result)

	return c.JSON(fiber.Map{
		"tool":   name,
		"result": result,
	})
}

// handleGetLogs returns recent log entries.
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(s.Logs())
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// handleStatusWS streams snapshots, starting with the current one.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	var initial [][]byte
	if s.assistant != nil {
		initial = append(initial, encode(s.assistant.Snapshot()))
	}
	hub.NewClient(s.statusHub, c, initial...).Run()
}

// handleFaceWS streams face state, starting with the current one.
func (s *Server) handleFaceWS(c *websocket.Conn) {
	var initial [][]byte
	if s.face != nil {
		initial = append(initial, encode(s.face.State()))
	}
	hub.NewClient(s.faceHub, c, initial...).Run()
}

// handleLogsWS streams log entries, starting with the recent backlog.
func (s *Server) handleLogsWS(c *websocket.Conn) {
	logs := s.Logs()
	initial := make([][]byte, 0, len(logs))
	for _, entry := range logs {
		initial = append(initial, encode(entry))
	}
	hub.NewClient(s.logHub, c, initial...).Run()
}
