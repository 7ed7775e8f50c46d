package routes

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/OFFIS-RIT/ctilinker/internal/queue"
	"github.com/OFFIS-RIT/ctilinker/internal/server/middleware"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"
	"github.com/OFFIS-RIT/ctilinker/pkg/store"

	"github.com/labstack/echo/v4"
)

// CreateRunHandler queues one run message per requested source for the
// workers. Completed sources are reported but not queued again.
func CreateRunHandler(c echo.Context) error {
	type createRunBody struct {
		Sources []string `json:"sources" validate:"required,min=1,dive,required"`
	}

	type createRunResponse struct {
		Message   string   `json:"message"`
		Queued    []string `json:"queued,omitempty"`
		Completed []string `json:"completed,omitempty"`
		Unknown   []string `json:"unknown,omitempty"`
	}

	data := new(createRunBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createRunResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createRunResponse{
			Message: "Invalid request body",
		})
	}

	app := c.(*middleware.AppContext).App
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, createRunResponse{
			Message: "No queue configured",
		})
	}

	ctx := c.Request().Context()
	all, err := app.Input.ListSources(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, createRunResponse{Message: err.Error()})
	}
	completed, err := app.Output.CompletedSources(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, createRunResponse{Message: err.Error()})
	}

	var res createRunResponse
	for _, name := range store.SortedUnique(slices.Clone(data.Sources)) {
		switch {
		case !slices.Contains(all, name):
			res.Unknown = append(res.Unknown, name)
		case slices.Contains(completed, name):
			res.Completed = append(res.Completed, name)
		default:
			msg, err := json.Marshal(queue.RunMessage{Source: name})
			if err != nil {
				return c.JSON(http.StatusInternalServerError, createRunResponse{Message: err.Error()})
			}
			if err := queue.PublishFIFO(app.Queue, queue.LinkQueue, msg); err != nil {
				logger.Error("[Server] Failed to queue run", "source", name, "err", err)
				return c.JSON(http.StatusInternalServerError, createRunResponse{
					Message: "Failed to queue run",
					Queued:  res.Queued,
				})
			}
			res.Queued = append(res.Queued, name)
		}
	}

	if len(res.Queued) == 0 {
		res.Message = "Nothing to run"
		return c.JSON(http.StatusOK, res)
	}
	res.Message = "Run queued"
	return c.JSON(http.StatusAccepted, res)
}
