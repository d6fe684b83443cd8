package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/hadiri/core"
	"github.com/trezcool/hadiri/core/enroll"
	"github.com/trezcool/hadiri/core/session"
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			code = http.StatusBadRequest
			message = origErr.Error()
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		case *core.ConflictError:
			code = http.StatusConflict
			message = echo.Map{
				"error":               origErr.Error(),
				"existing_session_id": origErr.ExistingID,
			}
		case *core.DeviceBusyError:
			code = http.StatusConflict
			message = origErr.Error()
		case *core.TimeoutError:
			code = http.StatusGatewayTimeout
			message = origErr.Error()
		case *core.ConnectionError:
			code = http.StatusBadGateway
			message = "Scanner not reachable. Check device power and network."
		default:
			switch errors.Cause(err) {
			case session.ErrNotFound, enroll.ErrProcessNotFound:
				code = http.StatusNotFound
				message = errors.Cause(err).Error()
			case session.ErrNoActiveSession, enroll.ErrNoActiveProcess:
				code = http.StatusNotFound
				message = errors.Cause(err).Error()
			case session.ErrNotActiveSession, enroll.ErrNotValidated:
				code = http.StatusBadRequest
				message = errors.Cause(err).Error()
			case enroll.ErrDeviceOffline, enroll.ErrSensorNotConnected:
				code = http.StatusBadGateway
				message = errors.Cause(err).Error()
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				logger.Error(msg, errors.Wrap(err, msg))

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
