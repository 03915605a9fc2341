package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var scriptPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=)`)

type Config struct {
	MaxFieldLength      int
	MaxContextLength    int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware validates intake bodies before they reach the handlers.
// Extraction fields come from parsed emails, so length bounds and
// markup rejection happen at the edge.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxFieldLength == 0 {
		cfg.MaxFieldLength = 500
	}
	if cfg.MaxContextLength == 0 {
		cfg.MaxContextLength = 20000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" && !contentTypeAllowed(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		if c.Method() == "POST" && strings.HasSuffix(c.Path(), "/api/v1/interviews") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			for _, field := range []string{"company", "role", "interviewer"} {
				value, _ := req[field].(string)
				if len(value) > cfg.MaxFieldLength {
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": field + " exceeds maximum length",
					})
				}
				if scriptPattern.MatchString(value) {
					cfg.Logger.Warn("Markup rejected in extraction field",
						zap.String("ip", c.IP()),
						zap.String("field", field),
					)
					return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
						"error": "Invalid characters in " + field,
					})
				}
			}

			if context, _ := req["source_context"].(string); len(context) > cfg.MaxContextLength {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "source_context exceeds maximum size",
				})
			}
		}

		return c.Next()
	}
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}
