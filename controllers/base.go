package controllers

import (
	"strconv"
	"strings"

	"halaqat_go/access"
	"halaqat_go/middleware"
	"halaqat_go/services"
	"halaqat_go/utils"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var validate = validator.New()

var statusByKind = map[string]int{
	"validation": fiber.StatusBadRequest,
	"not_found":  fiber.StatusNotFound,
	"forbidden":  fiber.StatusForbidden,
	"conflict":   fiber.StatusConflict,
	"internal":   fiber.StatusInternalServerError,
}

// fail writes err as an error envelope. Internal errors are logged and hidden.
func fail(c *fiber.Ctx, err error) error {
	kind := services.Kind(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = fiber.StatusInternalServerError
	}
	msg := err.Error()
	if kind == "internal" {
		logrus.WithError(err).WithFields(logrus.Fields{
			"path":       c.Path(),
			"method":     c.Method(),
			"request_id": c.Locals("request_id"),
		}).Error("request failed")
		msg = "internal server error"
	}
	var fields any
	if f := services.FieldsOf(err); len(f) > 0 {
		fields = f
	}
	return utils.Fail(c, status, kind, msg, fields)
}

// bind parses the JSON body into dst and runs its validate tags. An empty body leaves dst
// at its zero value.
func bind(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(dst); err != nil {
			return services.NewValidationError("invalid request body")
		}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return services.NewValidationError(err.Error())
		}
		fields := make([]services.FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, services.FieldError{
				Field: strings.ToLower(fe.Field()),
				Error: "failed on " + fe.Tag(),
			})
		}
		return services.NewValidationError("validation failed", fields...)
	}
	return nil
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, services.NewValidationError("invalid "+name, services.FieldError{Field: name, Error: "must be a positive integer"})
	}
	return uint(id), nil
}

func queryUint(c *fiber.Ctx, name string) uint {
	id, err := strconv.ParseUint(c.Query(name), 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

func pagination(c *fiber.Ctx) services.Pagination {
	return services.Pagination{Page: c.QueryInt("page", 1), Limit: c.QueryInt("limit", 20)}
}

// pageMeta echoes the effective paging values back to the client.
func pageMeta(p services.Pagination, total int64) utils.PageMeta {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 20
	}
	return utils.PageMeta{Page: p.Page, Limit: p.Limit, Total: total}
}

func actor(c *fiber.Ctx) access.Actor {
	return middleware.GetActor(c)
}

func ok(c *fiber.Ctx, data any) error {
	return utils.Success(c, fiber.StatusOK, "", data)
}

func created(c *fiber.Ctx, data any) error {
	return utils.Success(c, fiber.StatusCreated, "", data)
}
