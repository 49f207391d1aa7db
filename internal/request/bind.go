// Package request parses and validates JSON request bodies.
package request

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/response"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// Bind decodes the body into dst and validates it. On failure the returned
// response is a 400 ready to send and ok is false.
func Bind(c *fiber.Ctx, dst any) (response.Response, bool) {
	if err := c.BodyParser(dst); err != nil {
		return response.BadRequest("Invalid request body").WithData(fiber.Map{
			"errors": []FieldError{{Field: "body", Rule: "json", Param: err.Error()}},
		}), false
	}
	return Validate(dst)
}

// Validate checks the struct tags of v.
func Validate(v any) (response.Response, bool) {
	err := validate.Struct(v)
	if err == nil {
		return response.Response{}, true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return response.BadRequest(fmt.Sprintf("Invalid request: %v", err)), false
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return response.BadRequest("Validation failed").WithData(fiber.Map{"errors": out}), false
}
