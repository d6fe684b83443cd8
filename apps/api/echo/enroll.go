package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/hadiri/core/enroll"
)

type enrollApi struct {
	deps ServerDeps
}

func registerEnrollAPI(g *echo.Group, deps ServerDeps) {
	api := enrollApi{deps: deps}

	eg := g.Group("/enrollment")
	eg.POST("/start", api.startProcess)
	eg.POST("", api.enroll)
	eg.POST("/cancel", api.cancel)
	eg.GET("", api.current)
	eg.DELETE("", api.clear)

	g.GET("/device/status", api.deviceStatus)
}

// Handlers

func (api *enrollApi) startProcess(ctx echo.Context) error {
	if err := api.deps.EnrollSvc.StartProcess(ctx.Request().Context()); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"step": enroll.StepValidated})
}

func (api *enrollApi) enroll(ctx echo.Context) error {
	var data enroll.NewEnrollment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEnrollment")
	}

	proc, err := api.deps.EnrollSvc.Enroll(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusAccepted, proc)
}

func (api *enrollApi) cancel(ctx echo.Context) error {
	if err := api.deps.EnrollSvc.Cancel(ctx.Request().Context()); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *enrollApi) current(ctx echo.Context) error {
	proc, err := api.deps.EnrollSvc.Current()
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, proc)
}

func (api *enrollApi) clear(ctx echo.Context) error {
	if err := api.deps.EnrollSvc.Clear(ctx.Request().Context()); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *enrollApi) deviceStatus(ctx echo.Context) error {
	status, err := api.deps.Device.Status(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"online":           status.Online,
		"sensor_connected": status.SensorConnected,
		"capacity":         status.Capacity,
		"connection":       api.deps.Device.Connection(),
	})
}
