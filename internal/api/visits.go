package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trapline/visits-platform/internal/visits"
)

// Gateway-provided identity headers. The gateway has already
// authenticated the caller; scope authorization happens in the engine.
const (
	headerUserID    = "X-User-Id"
	headerUserAdmin = "X-User-Admin"
)

// ErrorResponse carries human-readable messages for 4xx/5xx responses
type ErrorResponse struct {
	Messages []string `json:"messages"`
}

// GetVisitsPage handles GET /api/v1/monitoring/page
func (s *Server) GetVisitsPage(c echo.Context) error {
	viewer, ok := viewerFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Messages: []string{"authentication required"}})
	}

	params, messages := parseVisitParams(c)
	if len(messages) > 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Messages: messages})
	}

	result, err := s.service.Query(c.Request().Context(), viewer, params)
	if err != nil {
		return s.translateError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) translateError(c echo.Context, err error) error {
	var invalid *visits.InvalidQueryError
	switch {
	case errors.As(err, &invalid):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Messages: invalid.Messages})
	case errors.Is(err, visits.ErrScopeForbidden):
		return c.JSON(http.StatusForbidden, ErrorResponse{Messages: []string{err.Error()}})
	case errors.Is(err, visits.ErrUpstreamUnavailable):
		s.logger.Error("Recording store failure", "error", err)
		return c.JSON(http.StatusBadGateway, ErrorResponse{Messages: []string{"recording store unavailable"}})
	default:
		s.logger.Error("Unexpected query failure", "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Messages: []string{"internal error"}})
	}
}

func viewerFrom(c echo.Context) (visits.Viewer, bool) {
	raw := c.Request().Header.Get(headerUserID)
	if raw == "" {
		return visits.Viewer{}, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return visits.Viewer{}, false
	}
	return visits.Viewer{
		UserID: id,
		Admin:  c.Request().Header.Get(headerUserAdmin) == "true",
	}, true
}

func parseVisitParams(c echo.Context) (visits.Params, []string) {
	var params visits.Params
	var messages []string

	params.Devices = parseIDList(c, "devices", &messages)
	params.Groups = parseIDList(c, "groups", &messages)
	params.Stations = parseIDList(c, "stations", &messages)
	params.From = parseTime(c, "from", &messages)
	params.Until = parseTime(c, "until", &messages)
	params.Page = parseInt(c, "page", &messages)
	params.PageSize = parseInt(c, "page-size", &messages)
	params.CompareAI = c.QueryParam("ai")
	if types := c.QueryParam("types"); types != "" {
		params.Types = splitList(types)
	}

	return params, messages
}

// parseIDList accepts repeated parameters and comma-separated values
func parseIDList(c echo.Context, name string, messages *[]string) []int64 {
	var ids []int64
	for _, raw := range c.QueryParams()[name] {
		for _, field := range splitList(raw) {
			id, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				*messages = append(*messages, fmt.Sprintf("%s must be an id or list of ids", name))
				return nil
			}
			ids = append(ids, id)
		}
	}
	return ids
}

func parseInt(c echo.Context, name string, messages *[]string) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*messages = append(*messages, fmt.Sprintf("%s must be an integer", name))
		return 0
	}
	return n
}

// parseTime accepts RFC 3339 timestamps and bare dates
func parseTime(c echo.Context, name string, messages *[]string) *time.Time {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	*messages = append(*messages, fmt.Sprintf("%s must be an ISO-8601 date or timestamp", name))
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, field := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
