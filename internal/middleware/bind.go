package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/cardrail/internal/apperror"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// BindJSON decodes the request body into dst and validates its struct tags.
func BindJSON(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	return Validate(dst)
}

// BindQuery decodes query parameters into dst and validates them.
func BindQuery(c *fiber.Ctx, dst any) error {
	if err := c.QueryParser(dst); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid query parameters")
	}
	return Validate(dst)
}

// Validate checks dst's struct tags and renders failures as a 400.
func Validate(dst any) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fiber.NewError(http.StatusBadRequest, strings.Join(msgs, "; "))
}

// Fail translates a domain error into a fiber error with a caller-safe message.
func Fail(err error) error {
	return fiber.NewError(apperror.HTTPStatus(err), apperror.Public(err))
}
