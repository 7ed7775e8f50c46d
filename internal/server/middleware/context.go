package middleware

import (
	"context"

	"github.com/OFFIS-RIT/ctilinker/internal/queue"
	"github.com/OFFIS-RIT/ctilinker/pkg/store"
	pgstore "github.com/OFFIS-RIT/ctilinker/pkg/store/pgx"

	"github.com/labstack/echo/v4"
)

// ResultLister returns the indexed results of a source.
type ResultLister interface {
	ListResults(ctx context.Context, source string) ([]pgstore.ResultSummary, error)
}

// App holds what the handlers need. Queue and Index are optional.
type App struct {
	Input  store.Input
	Output store.Output
	Queue  queue.Channel
	Index  ResultLister
	APIKey string
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
