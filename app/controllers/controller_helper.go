package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ServiceBoard/internal/pkg/apperr"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/database"
)

var validate = validator.New()

// RespondError writes err as {"error": code, "message": msg}. Throttling
// errors carry Retry-After; foreign errors are logged and masked.
func RespondError(c *fiber.Ctx, err error) error {
	status := apperr.HTTPStatus(err)
	code := apperr.CodeOf(err)
	message := "internal server error"

	if e, ok := apperr.As(err); ok {
		message = e.Message
		if s := e.RetryAfterSeconds(); s > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(s))
		}
	} else {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		if database.IsRetryable(err) {
			status = fiber.StatusServiceUnavailable
			message = "temporary storage conflict, retry the request"
			c.Set(fiber.HeaderRetryAfter, "1")
		}
	}

	return c.Status(status).JSON(fiber.Map{
		"error":   string(code),
		"message": message,
	})
}

// parseBody decodes the JSON body into dst and runs its validate tags.
func parseBody(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) == 0 {
		return apperr.Validation("request body is required")
	}
	if err := c.BodyParser(dst); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "malformed request body", err)
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.Wrap(apperr.CodeValidation, validationMessage(err), err)
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}

// idParam reads a positive numeric route parameter.
func idParam(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid " + name)
	}
	return uint(id), nil
}

func pageParams(c *fiber.Ctx) (int, int) {
	return c.QueryInt("page", 1), c.QueryInt("per_page", 0)
}

// GetClientIP returns the caller address, preferring proxy headers.
func GetClientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	return c.IP()
}
