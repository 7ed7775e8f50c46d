package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/ctilinker/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

const (
	statusCompleted = "completed"
	statusPending   = "pending"
)

// GetSourcesHandler lists the input sources with their completion state.
func GetSourcesHandler(c echo.Context) error {
	type source struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}

	type sourcesResponse struct {
		Sources   []source `json:"sources"`
		Completed int      `json:"completed"`
		Pending   int      `json:"pending"`
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	all, err := app.Input.ListSources(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	completed, err := app.Output.CompletedSources(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	done := make(map[string]struct{}, len(completed))
	for _, s := range completed {
		done[s] = struct{}{}
	}

	res := sourcesResponse{Sources: make([]source, 0, len(all))}
	for _, name := range all {
		status := statusPending
		if _, ok := done[name]; ok {
			status = statusCompleted
			res.Completed++
		} else {
			res.Pending++
		}
		res.Sources = append(res.Sources, source{Name: name, Status: status})
	}

	return c.JSON(http.StatusOK, res)
}
