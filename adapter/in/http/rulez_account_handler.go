package http

import (
	"github.com/gofiber/fiber/v2"

	"mailrulez/core/domain"
	"mailrulez/core/service/processor"
	"mailrulez/pkg/response"
)

// AccountHandler exposes the processor lifecycle per account.
type AccountHandler struct {
	manager *processor.Manager
}

// NewAccountHandler creates the handler.
func NewAccountHandler(manager *processor.Manager) *AccountHandler {
	return &AccountHandler{manager: manager}
}

// Register mounts the routes.
func (h *AccountHandler) Register(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/status", h.StatusAll)
	api.Get("/stats", h.Aggregate)
	api.Get("/history", h.History)
	api.Post("/accounts/start-all", h.StartAll)
	api.Post("/accounts/stop-all", h.StopAll)
	api.Post("/accounts/refresh", h.Refresh)

	acct := api.Group("/accounts/:email")
	acct.Get("/status", h.Status)
	acct.Get("/folders", h.FolderStatus)
	acct.Post("/folders", h.CreateFolders)
	acct.Get("/inbox-count", h.InboxCount)
	acct.Post("/start", h.Start)
	acct.Post("/stop", h.Stop)
	acct.Post("/restart", h.Restart)
	acct.Post("/mode", h.SwitchMode)
	acct.Post("/batch", h.ManualBatch)
}

func (h *AccountHandler) StatusAll(c *fiber.Ctx) error {
	accounts, mgr := h.manager.StatusAll()
	return response.OK(c, fiber.Map{
		"accounts":     accounts,
		"task_manager": mgr,
	})
}

func (h *AccountHandler) Aggregate(c *fiber.Ctx) error {
	return response.OK(c, h.manager.Aggregate())
}

func (h *AccountHandler) History(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return response.BadRequest(c, "limit must not be negative")
	}
	return response.OK(c, h.manager.History(limit))
}

func (h *AccountHandler) Status(c *fiber.Ctx) error {
	status, err := h.manager.AccountStatus(c.Params("email"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, status)
}

type startRequest struct {
	Mode string `json:"mode"`
}

func parseStartMode(c *fiber.Ctx) (domain.ProcessingMode, error) {
	var req startRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return "", err
		}
	}
	mode := domain.ProcessingMode(req.Mode)
	if mode != "" && mode != domain.ModeStartup && mode != domain.ModeMaintenance {
		return "", fiber.ErrBadRequest
	}
	return mode, nil
}

func (h *AccountHandler) Start(c *fiber.Ctx) error {
	mode, err := parseStartMode(c)
	if err != nil {
		return response.BadRequest(c, "mode must be startup or maintenance")
	}
	if err := h.manager.StartAccount(c.Context(), c.Params("email"), mode); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"status": "started"})
}

func (h *AccountHandler) Stop(c *fiber.Ctx) error {
	if err := h.manager.StopAccount(c.Params("email")); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"status": "stopped"})
}

func (h *AccountHandler) Restart(c *fiber.Ctx) error {
	if err := h.manager.RestartAccount(c.Context(), c.Params("email")); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"status": "restarted"})
}

type switchModeRequest struct {
	Mode string `json:"mode"`
}

func (h *AccountHandler) SwitchMode(c *fiber.Ctx) error {
	var req switchModeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	mode := domain.ProcessingMode(req.Mode)
	if mode != domain.ModeStartup && mode != domain.ModeMaintenance {
		return response.BadRequest(c, "mode must be startup or maintenance")
	}
	if err := h.manager.SwitchMode(c.Params("email"), mode); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"mode": req.Mode})
}

type manualBatchRequest struct {
	Limit int `json:"limit"`
}

func (h *AccountHandler) ManualBatch(c *fiber.Ctx) error {
	var req manualBatchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "invalid request body")
		}
	}
	result, err := h.manager.ProcessManualBatch(c.Context(), c.Params("email"), req.Limit)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

func (h *AccountHandler) StartAll(c *fiber.Ctx) error {
	mode, err := parseStartMode(c)
	if err != nil {
		return response.BadRequest(c, "mode must be startup or maintenance")
	}
	return response.OK(c, h.manager.StartAll(c.Context(), mode))
}

func (h *AccountHandler) StopAll(c *fiber.Ctx) error {
	return response.OK(c, h.manager.StopAll())
}

func (h *AccountHandler) FolderStatus(c *fiber.Ctx) error {
	status, err := h.manager.FolderStatus(c.Context(), c.Params("email"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, status)
}

type createFoldersRequest struct {
	Confirm bool `json:"confirm"`
}

func (h *AccountHandler) CreateFolders(c *fiber.Ctx) error {
	var req createFoldersRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if !req.Confirm {
		return response.BadRequest(c, "folder creation requires confirm: true")
	}
	created, err := h.manager.CreateFolders(c.Context(), c.Params("email"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"created": created})
}

func (h *AccountHandler) InboxCount(c *fiber.Ctx) error {
	count, err := h.manager.InboxCount(c.Context(), c.Params("email"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"inbox_count": count})
}

func (h *AccountHandler) Refresh(c *fiber.Ctx) error {
	return response.OK(c, h.manager.RefreshAccountsFromConfig())
}
