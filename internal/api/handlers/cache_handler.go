package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/prep-agent/backend/internal/research"
)

type CacheHandler struct {
	adapter *research.CacheAdapter
}

func NewCacheHandler(adapter *research.CacheAdapter) *CacheHandler {
	return &CacheHandler{adapter: adapter}
}

// GetStats returns the cache snapshot: entry count, size, hit/miss
// counters, and estimated dollar savings.
func (h *CacheHandler) GetStats(c *fiber.Ctx) error {
	return c.JSON(h.adapter.Stats())
}

// HandleClear drops the whole cache, or only one category's entries
// when ?category= is given.
func (h *CacheHandler) HandleClear(c *fiber.Ctx) error {
	removed := h.adapter.Clear(c.Query("category"))
	return c.JSON(fiber.Map{
		"removed": removed,
	})
}
