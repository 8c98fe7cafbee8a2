package http

import (
	"github.com/gofiber/fiber/v2"

	"mailrulez/core/domain"
	"mailrulez/core/service/rules"
	"mailrulez/pkg/response"
)

// RuleHandler exposes the rule engine.
type RuleHandler struct {
	rules *rules.Engine
}

// NewRuleHandler creates the handler.
func NewRuleHandler(engine *rules.Engine) *RuleHandler {
	return &RuleHandler{rules: engine}
}

// Register mounts the routes.
func (h *RuleHandler) Register(app *fiber.App) {
	api := app.Group("/api/rules")
	api.Get("/", h.All)
	api.Post("/", h.Create)
	api.Get("/templates", h.Templates)
	api.Post("/templates/:name", h.CreateFromTemplate)
	api.Get("/:id", h.Get)
	api.Put("/:id", h.Update)
	api.Delete("/:id", h.Delete)
}

func (h *RuleHandler) All(c *fiber.Ctx) error {
	all := h.rules.All()
	return response.OKWithMeta(c, all, &response.Meta{Total: len(all)})
}

func (h *RuleHandler) Get(c *fiber.Ctx) error {
	rule, err := h.rules.Get(c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, rule)
}

func (h *RuleHandler) Create(c *fiber.Ctx) error {
	var rule domain.Rule
	if err := c.BodyParser(&rule); err != nil {
		return response.BadRequest(c, "invalid rule body")
	}
	if err := h.rules.Add(&rule); err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, rule)
}

func (h *RuleHandler) Update(c *fiber.Ctx) error {
	var rule domain.Rule
	if err := c.BodyParser(&rule); err != nil {
		return response.BadRequest(c, "invalid rule body")
	}
	rule.ID = c.Params("id")
	if err := h.rules.Update(&rule); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, rule)
}

func (h *RuleHandler) Delete(c *fiber.Ctx) error {
	if err := h.rules.Delete(c.Params("id")); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}

func (h *RuleHandler) Templates(c *fiber.Ctx) error {
	return response.OK(c, rules.TemplateNames())
}

func (h *RuleHandler) CreateFromTemplate(c *fiber.Ctx) error {
	rule, err := rules.RuleFromTemplate(c.Params("name"))
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.rules.Add(rule); err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, rule)
}
