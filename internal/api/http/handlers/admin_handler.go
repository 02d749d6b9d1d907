package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-intake/internal/api/dto"
	"github.com/spec-kit/ticket-intake/internal/service"
	"github.com/spec-kit/ticket-intake/internal/tracker"
	apperrors "github.com/spec-kit/ticket-intake/pkg/util/errorutil"
)

// AdminHandler exposes operational triggers.
type AdminHandler struct {
	workflow *service.Workflow
	limiter  *service.RateLimiter
	sessions *service.SessionManager
	catalog  *tracker.Catalog
	source   tracker.Source
}

// AdminDependencies bundles admin handler collaborators.
type AdminDependencies struct {
	Workflow      *service.Workflow
	RateLimiter   *service.RateLimiter
	Sessions      *service.SessionManager
	Catalog       *tracker.Catalog
	CatalogSource tracker.Source
}

// NewAdminHandler constructs handler.
func NewAdminHandler(deps AdminDependencies) *AdminHandler {
	return &AdminHandler{
		workflow: deps.Workflow,
		limiter:  deps.RateLimiter,
		sessions: deps.Sessions,
		catalog:  deps.Catalog,
		source:   deps.CatalogSource,
	}
}

// ResetRateLimits POST /v1/admin/rate-limits/reset.
func (h *AdminHandler) ResetRateLimits(c *fiber.Ctx) error {
	if err := h.limiter.ResetAll(c.UserContext()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RetryTicket POST /v1/admin/tickets/:id/retry.
func (h *AdminHandler) RetryTicket(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return apperrors.NewValidationError("id required", nil)
	}
	record, err := h.workflow.RetryTicket(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketRecordResponse(record)})
}

// RefreshCatalog POST /v1/admin/catalog/refresh.
func (h *AdminHandler) RefreshCatalog(c *fiber.Ctx) error {
	if h.source == nil {
		return apperrors.NewConflict("catalog refresh is not configured", nil)
	}
	if err := h.catalog.Refresh(c.UserContext(), h.source); err != nil {
		return apperrors.NewTrackerUnavailable(err)
	}
	return c.JSON(fiber.Map{"data": dto.CatalogResponse{
		Statuses:  len(h.catalog.Statuses()),
		Assignees: len(h.catalog.Assignees()),
	}})
}

// SweepSessions POST /v1/admin/sessions/sweep.
func (h *AdminHandler) SweepSessions(c *fiber.Ctx) error {
	removed, err := h.sessions.Sweep(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.SweepResponse{Removed: removed}})
}
