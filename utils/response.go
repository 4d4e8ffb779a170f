package utils

import "github.com/gofiber/fiber/v2"

// ErrorResponse is the uniform error payload.
func ErrorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// SuccessResponse is the uniform success payload.
func SuccessResponse(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// PaginatedResponse wraps list results with paging metadata.
func PaginatedResponse(c *fiber.Ctx, data interface{}, page, limit int, total int64) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
		"pagination": fiber.Map{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// Pointer returns a pointer to v, for optional fields in literals.
func Pointer[T any](v T) *T {
	return &v
}
