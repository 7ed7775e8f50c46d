package routes

import (
	"errors"
	"net/http"
	"slices"

	"github.com/OFFIS-RIT/ctilinker/internal/server/middleware"
	"github.com/OFFIS-RIT/ctilinker/pkg/store"
	pgstore "github.com/OFFIS-RIT/ctilinker/pkg/store/pgx"

	"github.com/labstack/echo/v4"
)

// GetSourceResultsHandler lists the result files of a completed source and,
// when a result index is configured, their summaries.
func GetSourceResultsHandler(c echo.Context) error {
	type resultsResponse struct {
		Source  string                  `json:"source"`
		Files   []string                `json:"files"`
		Results []pgstore.ResultSummary `json:"results,omitempty"`
	}

	source, err := store.CleanName(c.Param("source"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid source"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	completed, err := app.Output.CompletedSources(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if !slices.Contains(completed, source) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Source not completed"})
	}

	files, err := app.Output.ListFiles(ctx, source)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	res := resultsResponse{Source: source, Files: files}
	if res.Files == nil {
		res.Files = []string{}
	}
	if app.Index != nil {
		res.Results, err = app.Index.ListResults(ctx, source)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}

	return c.JSON(http.StatusOK, res)
}

// GetResultHandler returns one output record of a completed source.
func GetResultHandler(c echo.Context) error {
	source, err := store.CleanName(c.Param("source"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid source"})
	}
	file, err := store.CleanName(c.Param("*"))
	if err != nil || !store.IsRecordFile(file) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid file"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	data, err := app.Output.Read(ctx, source, file)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Result not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSONBlob(http.StatusOK, data)
}
