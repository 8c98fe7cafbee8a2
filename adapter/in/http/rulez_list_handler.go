package http

import (
	"github.com/gofiber/fiber/v2"

	"mailrulez/core/service/lists"
	"mailrulez/pkg/response"
)

// ListHandler exposes the sender list store.
type ListHandler struct {
	lists *lists.Store
}

// NewListHandler creates the handler.
func NewListHandler(store *lists.Store) *ListHandler {
	return &ListHandler{lists: store}
}

// Register mounts the routes.
func (h *ListHandler) Register(app *fiber.App) {
	api := app.Group("/api/lists")
	api.Get("/", h.All)
	api.Get("/conflicts", h.Conflicts)
	api.Post("/", h.Create)
	api.Get("/:name", h.Entries)
	api.Post("/:name/entries", h.AddEntry)
	api.Delete("/:name/entries", h.RemoveEntry)
}

func (h *ListHandler) All(c *fiber.Ctx) error {
	return response.OK(c, h.lists.All())
}

func (h *ListHandler) Conflicts(c *fiber.Ctx) error {
	conflicts, err := h.lists.Conflicts()
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, conflicts)
}

type createListRequest struct {
	Name string `json:"name"`
}

func (h *ListHandler) Create(c *fiber.Ctx) error {
	var req createListRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return response.BadRequest(c, "list name required")
	}
	if err := h.lists.CreateList(req.Name); err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, fiber.Map{"name": req.Name})
}

func (h *ListHandler) Entries(c *fiber.Ctx) error {
	entries, err := h.lists.Load(c.Params("name"))
	if err != nil {
		return response.NotFound(c, err.Error())
	}
	return response.OKWithMeta(c, entries, &response.Meta{Total: len(entries)})
}

type entryRequest struct {
	Address string `json:"address"`
}

func (h *ListHandler) AddEntry(c *fiber.Ctx) error {
	var req entryRequest
	if err := c.BodyParser(&req); err != nil || req.Address == "" {
		return response.BadRequest(c, "address required")
	}
	if err := h.lists.Add(c.Params("name"), req.Address); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"address": req.Address})
}

func (h *ListHandler) RemoveEntry(c *fiber.Ctx) error {
	var req entryRequest
	if err := c.BodyParser(&req); err != nil || req.Address == "" {
		return response.BadRequest(c, "address required")
	}
	if err := h.lists.Remove(c.Params("name"), req.Address); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}
