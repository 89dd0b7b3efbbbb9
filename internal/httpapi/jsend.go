package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// jsend envelope: success carries data, fail carries a message and optional
// data, error carries a message and the status code.
type jsendResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

const (
	jsendSuccess = "success"
	jsendFail    = "fail"
	jsendError   = "error"
)

func respond(c echo.Context, code int, body jsendResponse) error {
	if body.Status == jsendError {
		body.Code = code
	}
	return c.JSON(code, body)
}

func success(c echo.Context, data any) error {
	return successWithStatus(c, http.StatusOK, data)
}

func successWithStatus(c echo.Context, code int, data any) error {
	return respond(c, code, jsendResponse{Status: jsendSuccess, Data: data})
}

// accepted acknowledges work handed to the queue.
func accepted(c echo.Context, data any) error {
	return successWithStatus(c, http.StatusAccepted, data)
}

func fail(c echo.Context, code int, message string, data any) error {
	return respond(c, code, jsendResponse{Status: jsendFail, Message: message, Data: data})
}

func failValidation(c echo.Context, fieldErrors map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", map[string]any{
		"validation_errors": fieldErrors,
	})
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, nil)
}

func internalError(c echo.Context, message string) error {
	return respond(c, http.StatusInternalServerError, jsendResponse{Status: jsendError, Message: message})
}
