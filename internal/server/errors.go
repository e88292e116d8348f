package server

import (
	"net/http"

	"codeberg.org/mutker/pulsecore/internal/errors"
	"codeberg.org/mutker/pulsecore/internal/history"
	"codeberg.org/mutker/pulsecore/internal/probe"
	"codeberg.org/mutker/pulsecore/internal/settings"
	"github.com/gin-gonic/gin"
)

const (
	ErrBadRequest = errors.ErrorCode("server_bad_request")
	ErrShutdown   = errors.ErrorCode("server_shutdown_failed")
)

// statusByCode maps domain error codes onto HTTP statuses. Anything not
// listed is a 500.
var statusByCode = map[errors.ErrorCode]int{
	ErrBadRequest:               http.StatusBadRequest,
	settings.ErrInvalidSettings: http.StatusBadRequest,
	history.ErrInvalidRecord:    http.StatusBadRequest,
	probe.ErrInvalidTarget:      http.StatusBadRequest,
	probe.ErrTimeout:            http.StatusGatewayTimeout,
	probe.ErrSpawnFailed:        http.StatusBadGateway,
	probe.ErrNoOutput:           http.StatusBadGateway,
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var appErr errors.Error
	if errors.As(err, &appErr) {
		body.Code = string(appErr.Code())
	}

	event := s.log.Warn()
	if status >= http.StatusInternalServerError {
		event = s.log.Error()
	}
	event.Err(err).
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Int("status", status).
		Msg("Request failed")

	c.AbortWithStatusJSON(status, body)
}

// statusFor uses the outermost code in the chain that has a mapping.
func statusFor(err error) int {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if appErr, ok := e.(errors.Error); ok {
			if status, ok := statusByCode[appErr.Code()]; ok {
				return status
			}
		}
	}
	return http.StatusInternalServerError
}

func badRequest(msg string) error {
	return errors.New().WithMessage(ErrBadRequest, msg)
}
