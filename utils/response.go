package utils

import "github.com/gofiber/fiber/v2"

// ErrorBody is the error half of the response envelope.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Fields  any    `json:"fields,omitempty"`
}

// Envelope is the shape of every API response.
type Envelope struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	Data    any        `json:"data,omitempty"`
	Meta    any        `json:"meta,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// PageMeta describes one page of a list.
type PageMeta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

func Success(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(Envelope{Success: true, Message: message, Data: data})
}

func Page(c *fiber.Ctx, data any, meta PageMeta) error {
	return c.Status(fiber.StatusOK).JSON(Envelope{Success: true, Data: data, Meta: meta})
}

func Fail(c *fiber.Ctx, status int, kind, message string, fields any) error {
	return c.Status(status).JSON(Envelope{Success: false, Error: &ErrorBody{Kind: kind, Message: message, Fields: fields}})
}
