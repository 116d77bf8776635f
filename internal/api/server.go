package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/fmha/internal/attention"
	"github.com/samcharles93/fmha/internal/version"
)

type Server struct {
	store   *RunStore
	service *AttentionService
	clock   func() time.Time
}

func NewServer(store *RunStore, service *AttentionService) *Server {
	if store == nil {
		store = NewRunStore()
	}
	if service == nil {
		service = NewAttentionService()
	}
	return &Server{
		store:   store,
		service: service,
		clock:   time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)

	// Attention runs
	e.POST("/v1/attention/runs", s.handleCreateRun)
	e.GET("/v1/attention/runs", s.handleListRuns)
	e.GET("/v1/attention/runs/:id", s.handleGetRun)
	e.DELETE("/v1/attention/runs/:id", s.handleDeleteRun)

	// Scheduling estimates
	e.POST("/v1/attention/estimate", s.handleEstimate)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.String(),
	})
}

func (s *Server) handleCreateRun(c *echo.Context) error {
	req, err := decodeJSON[RunRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	resp, err := s.service.Run(c.Request().Context(), &req)
	if err != nil {
		return writeServiceError(c, err)
	}

	resp.ID = newRunID()
	resp.Object = "attention.run"
	resp.CreatedAt = s.clock().Unix()
	s.store.Put(resp)

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListRuns(c *echo.Context) error {
	runs := s.store.List()
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   runs,
	})
}

func (s *Server) handleGetRun(c *echo.Context) error {
	id := c.Param("id")
	rec, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "run not found: "+id)
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDeleteRun(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "run not found: "+id)
	}
	return c.JSON(http.StatusOK, DeleteRunResp{
		ID:      id,
		Object:  "attention.run.deleted",
		Deleted: true,
	})
}

func (s *Server) handleEstimate(c *echo.Context) error {
	req, err := decodeJSON[EstimateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	resp, err := s.service.Estimate(&req)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// writeServiceError translates the engine's error taxonomy onto HTTP.
func writeServiceError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, attention.ErrUnsupportedConfig):
		return writeBadRequest(c, err.Error())
	case errors.Is(err, attention.ErrResourceInsufficient):
		return writeError(c, http.StatusServiceUnavailable, "resource_insufficient", err.Error(), "", "")
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
