package proxy

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/quill/pkg/llm"
	"github.com/papercomputeco/quill/pkg/store"
)

// handleGetList returns the list stored under :key, upgraded to the
// current shape. A key that was never written returns [].
func (p *Proxy) handleGetList(c *fiber.Ctx) error {
	key := c.Params("key")
	if !store.IsKnownKey(key) {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "unknown key: " + key})
	}

	list, err := store.LoadList[json.RawMessage](c.Context(), p.store, key)
	if err != nil {
		return err
	}
	return c.JSON(list)
}

// handlePutList replaces the list stored under :key.
func (p *Proxy) handlePutList(c *fiber.Ctx) error {
	key := c.Params("key")
	if !store.IsKnownKey(key) {
		return c.Status(fiber.StatusNotFound).JSON(llm.ErrorResponse{Error: "unknown key: " + key})
	}

	body := c.Body()
	if err := store.ValidateList(body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: err.Error()})
	}
	if err := p.store.Put(c.Context(), key, append([]byte(nil), body...)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
