package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"mailrulez/config"
	"mailrulez/core/domain"
	"mailrulez/core/service/retention"
	"mailrulez/pkg/response"
)

// RetentionHandler exposes retention policies, execution, audit and the
// scheduler.
type RetentionHandler struct {
	cfg       *config.Config
	store     *retention.PolicyStore
	executor  *retention.Executor
	scheduler *retention.Scheduler
	audit     *retention.AuditLogger
}

// NewRetentionHandler creates the handler.
func NewRetentionHandler(cfg *config.Config, store *retention.PolicyStore, executor *retention.Executor, scheduler *retention.Scheduler, audit *retention.AuditLogger) *RetentionHandler {
	return &RetentionHandler{
		cfg:       cfg,
		store:     store,
		executor:  executor,
		scheduler: scheduler,
		audit:     audit,
	}
}

// Register mounts the routes.
func (h *RetentionHandler) Register(app *fiber.App) {
	api := app.Group("/api/retention")
	api.Get("/policies", h.Policies)
	api.Post("/policies", h.CreatePolicy)
	api.Get("/policies/:id", h.Policy)
	api.Put("/policies/:id", h.UpdatePolicy)
	api.Delete("/policies/:id", h.DeletePolicy)
	api.Get("/preview/:email", h.Preview)
	api.Post("/run", h.Run)
	api.Get("/audit", h.Audit)
	api.Get("/report", h.Report)
	api.Get("/trash/:email", h.TrashContents)
	api.Post("/trash/:email/restore", h.RestoreTrash)

	sched := app.Group("/api/scheduler")
	sched.Get("/status", h.SchedulerStatus)
	sched.Put("/schedule", h.UpdateSchedule)
}

func (h *RetentionHandler) Policies(c *fiber.Ctx) error {
	policies := h.store.AllPolicies()
	return response.OKWithMeta(c, policies, &response.Meta{Total: len(policies)})
}

func (h *RetentionHandler) Policy(c *fiber.Ctx) error {
	policy, err := h.store.PolicyByID(c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, policy)
}

type createPolicyRequest struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	FolderPattern      string `json:"folder_pattern"`
	RuleID             string `json:"rule_id"`
	RetentionDays      int    `json:"retention_days"`
	TrashRetentionDays int    `json:"trash_retention_days"`
	SkipTrash          bool   `json:"skip_trash"`
}

func (h *RetentionHandler) CreatePolicy(c *fiber.Ctx) error {
	var req createPolicyRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid policy body")
	}
	if req.TrashRetentionDays == 0 {
		req.TrashRetentionDays = h.store.Global().DefaultTrashRetentionDays
	}
	var (
		policy *domain.RetentionPolicy
		err    error
	)
	if req.RuleID != "" {
		policy, err = h.store.CreateRulePolicy(req.Name, req.RuleID, req.Description, req.RetentionDays, req.TrashRetentionDays, req.SkipTrash)
	} else {
		policy, err = h.store.CreateFolderPolicy(req.Name, req.FolderPattern, req.Description, req.RetentionDays, req.TrashRetentionDays)
	}
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, policy)
}

func (h *RetentionHandler) UpdatePolicy(c *fiber.Ctx) error {
	var policy domain.RetentionPolicy
	if err := c.BodyParser(&policy); err != nil {
		return response.BadRequest(c, "invalid policy body")
	}
	policy.ID = c.Params("id")
	if err := h.store.UpdatePolicy(&policy); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, policy)
}

func (h *RetentionHandler) DeletePolicy(c *fiber.Ctx) error {
	if err := h.store.DeletePolicy(c.Params("id")); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}

func (h *RetentionHandler) Preview(c *fiber.Ctx) error {
	account := h.cfg.FindAccount(c.Params("email"))
	if account == nil {
		return response.NotFound(c, "account not found")
	}
	preview, err := h.executor.Preview(c.Context(), account)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, preview)
}

type runRequest struct {
	AccountEmail string `json:"account_email"`
	PolicyID     string `json:"policy_id"`
	DryRun       bool   `json:"dry_run"`
}

func (h *RetentionHandler) Run(c *fiber.Ctx) error {
	var req runRequest
	if err := c.BodyParser(&req); err != nil || req.AccountEmail == "" {
		return response.BadRequest(c, "account_email required")
	}
	results, err := h.scheduler.RunManual(c.Context(), req.AccountEmail, req.PolicyID, req.DryRun)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, results)
}

func (h *RetentionHandler) Audit(c *fiber.Ctx) error {
	filter := retention.AuditFilter{
		AccountEmail:  c.Query("account"),
		PolicyID:      c.Query("policy_id"),
		OperationType: c.Query("operation"),
		Limit:         c.QueryInt("limit", 100),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return response.BadRequest(c, "since must be RFC3339")
		}
		filter.Since = t
	}
	entries, err := h.audit.Query(filter)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OKWithMeta(c, entries, &response.Meta{Total: len(entries)})
}

func (h *RetentionHandler) Report(c *fiber.Ctx) error {
	daysBack := c.QueryInt("days", 30)
	report, err := h.audit.Report(daysBack)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, report)
}

func (h *RetentionHandler) TrashContents(c *fiber.Ctx) error {
	account := h.cfg.FindAccount(c.Params("email"))
	if account == nil {
		return response.NotFound(c, "account not found")
	}
	items, err := h.executor.TrashContents(c.Context(), account)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OKWithMeta(c, items, &response.Meta{Total: len(items)})
}

type restoreTrashRequest struct {
	UIDs   []uint32 `json:"uids"`
	Target string   `json:"target"`
}

func (h *RetentionHandler) RestoreTrash(c *fiber.Ctx) error {
	account := h.cfg.FindAccount(c.Params("email"))
	if account == nil {
		return response.NotFound(c, "account not found")
	}
	var req restoreTrashRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid restore body")
	}
	if err := h.executor.RestoreTrash(c.Context(), account, req.UIDs, req.Target); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"restored": len(req.UIDs)})
}

func (h *RetentionHandler) SchedulerStatus(c *fiber.Ctx) error {
	return response.OK(c, h.scheduler.Status())
}

type scheduleRequest struct {
	Hour    *int  `json:"hour"`
	Enabled *bool `json:"enabled"`
}

func (h *RetentionHandler) UpdateSchedule(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid schedule body")
	}
	status := h.scheduler.Status()
	hour := status.ExecutionHour
	if req.Hour != nil {
		hour = *req.Hour
	}
	enabled := status.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	if err := h.scheduler.UpdateSchedule(hour, enabled); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, h.scheduler.Status())
}
