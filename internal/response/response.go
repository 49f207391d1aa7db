// Package response defines the uniform outcome returned by every service
// operation and its HTTP rendering.
package response

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Response is the outcome of a service operation. Code is the HTTP status
// the transport should use and is not serialized.
type Response struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Code    int    `json:"-"`
}

// Success builds a 200 outcome.
func Success(message string, data any) Response {
	return Response{Status: true, Message: message, Data: data, Code: http.StatusOK}
}

// Created builds a 201 outcome.
func Created(message string, data any) Response {
	return Response{Status: true, Message: message, Data: data, Code: http.StatusCreated}
}

// Error builds a failed outcome with the given status code.
func Error(message string, code int) Response {
	return Response{Status: false, Message: message, Code: code}
}

// BadRequest builds a 400 outcome for business rule failures.
func BadRequest(message string) Response {
	return Error(message, http.StatusBadRequest)
}

// Internal builds a 500 outcome.
func Internal(message string) Response {
	return Error(message, http.StatusInternalServerError)
}

// WithData attaches data to a failed outcome, e.g. validation details.
func (r Response) WithData(data any) Response {
	r.Data = data
	return r
}

// Send writes r to the Fiber context.
func Send(c *fiber.Ctx, r Response) error {
	code := r.Code
	if code == 0 {
		code = http.StatusOK
		if !r.Status {
			code = http.StatusInternalServerError
		}
	}
	return c.Status(code).JSON(r)
}

// ErrorHandler renders errors escaping handlers, such as fiber.NewError from
// middleware, with the same envelope.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code, message := http.StatusInternalServerError, err.Error()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code, message = fe.Code, fe.Message
	}
	return Send(c, Error(message, code))
}
