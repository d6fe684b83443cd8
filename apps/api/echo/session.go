package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/hadiri/core/session"
)

type sessionApi struct {
	deps ServerDeps
}

func registerSessionAPI(g *echo.Group, deps ServerDeps) {
	api := sessionApi{deps: deps}

	sg := g.Group("/sessions")
	sg.POST("", api.start)
	sg.POST("/force", api.forceNew)
	sg.GET("/active", api.active)
	sg.GET("/events", api.events)
	sg.POST("/:id/resume", api.resume)
	sg.POST("/:id/end", api.end)
	sg.GET("/:id/stats", api.stats)
	sg.GET("/:id/records", api.records)
}

// Handlers

func (api *sessionApi) start(ctx echo.Context) error {
	var data session.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}

	sess, err := api.deps.SessionSvc.Start(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *sessionApi) forceNew(ctx echo.Context) error {
	var data session.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}

	sess, err := api.deps.SessionSvc.ForceNew(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *sessionApi) resume(ctx echo.Context) error {
	sess, err := api.deps.SessionSvc.Resume(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *sessionApi) end(ctx echo.Context) error {
	stats, err := api.deps.SessionSvc.End(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *sessionApi) active(ctx echo.Context) error {
	sess, err := api.deps.SessionSvc.Active(ctx.Request().Context(), ctx.QueryParam("started_by"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *sessionApi) stats(ctx echo.Context) error {
	stats, err := api.deps.SessionSvc.Stats(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *sessionApi) records(ctx echo.Context) error {
	recs, err := api.deps.SessionSvc.Records(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, recs)
}

// events streams session events (capture attempts, lifecycle changes) as
// server-sent events. The browser drives its live feedback panel off this.
func (api *sessionApi) events(ctx echo.Context) error {
	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	events, unsubscribe := api.deps.SessionSvc.Events().Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Request().Context().Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				api.deps.Logger.Error(fmt.Sprintf("marshalling event: %v", err), err)
				continue
			}
			if _, err = fmt.Fprintf(res, "data: %s\n\n", payload); err != nil {
				return nil // client gone
			}
			res.Flush()
		}
	}
}
