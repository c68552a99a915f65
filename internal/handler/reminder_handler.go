package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/webinar-reminder/internal/domain"
	"github.com/kursadbilgin/webinar-reminder/internal/service"
)

type ReminderService interface {
	Send(ctx context.Context, req service.SendRequest) (domain.Outcome, error)
	Status(ctx context.Context, webinarRef string) (*service.WebinarStatus, error)
}

type ReminderHandler struct {
	service ReminderService
}

func NewReminderHandler(service ReminderService) (*ReminderHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("reminder service is required")
	}
	return &ReminderHandler{service: service}, nil
}

func RegisterReminderRoutes(router fiber.Router, service ReminderService) error {
	h, err := NewReminderHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/webinars/:ref/reminders/:kind", h.SendReminder)
	v1.Get("/webinars/:ref/dispatches", h.ListDispatches)

	return nil
}

type outcomeResponse struct {
	WebinarID  string `json:"webinarId"`
	Kind       string `json:"kind"`
	Recipients int    `json:"recipients"`
	Success    int    `json:"success"`
	Failed     int    `json:"failed"`
	Skipped    string `json:"skipped,omitempty"`
}

type dispatchResponse struct {
	ID             string     `json:"id"`
	Kind           string     `json:"kind"`
	OccurrenceDate string     `json:"occurrenceDate"`
	Status         string     `json:"status"`
	Source         string     `json:"source"`
	Attempt        int        `json:"attempt"`
	SuccessCount   int        `json:"successCount"`
	FailedCount    int        `json:"failedCount"`
	ClaimedAt      time.Time  `json:"claimedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

type webinarStatusResponse struct {
	WebinarID  string             `json:"webinarId"`
	Slug       string             `json:"slug"`
	Title      string             `json:"title"`
	StartsAt   time.Time          `json:"startsAt"`
	IsActive   bool               `json:"isActive"`
	Dispatches []dispatchResponse `json:"dispatches"`
}

func (h *ReminderHandler) SendReminder(c *fiber.Ctx) error {
	kind, err := domain.ParseReminderKind(c.Params("kind"))
	if err != nil {
		return toHTTPError(err)
	}

	req := service.SendRequest{
		WebinarRef:     strings.TrimSpace(c.Params("ref")),
		Kind:           kind,
		DryRun:         c.QueryBool("dryRun", false),
		Force:          c.QueryBool("force", false),
		OccurrenceDate: strings.TrimSpace(c.Query("occurrenceDate")),
	}
	if req.DryRun && req.Force {
		return toHTTPError(fmt.Errorf("%w: dryRun and force are mutually exclusive", domain.ErrValidation))
	}

	outcome, err := h.service.Send(c.UserContext(), req)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toOutcomeResponse(outcome))
}

func (h *ReminderHandler) ListDispatches(c *fiber.Ctx) error {
	status, err := h.service.Status(c.UserContext(), strings.TrimSpace(c.Params("ref")))
	if err != nil {
		return toHTTPError(err)
	}

	dispatches := make([]dispatchResponse, 0, len(status.Dispatches))
	for _, d := range status.Dispatches {
		dispatches = append(dispatches, dispatchResponse{
			ID:             d.ID,
			Kind:           d.Kind.String(),
			OccurrenceDate: d.OccurrenceDate,
			Status:         d.Status.String(),
			Source:         string(d.Source),
			Attempt:        d.Attempt,
			SuccessCount:   d.SuccessCount,
			FailedCount:    d.FailedCount,
			ClaimedAt:      d.ClaimedAt,
			CompletedAt:    d.CompletedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(webinarStatusResponse{
		WebinarID:  status.Webinar.ID,
		Slug:       status.Webinar.Slug,
		Title:      status.Webinar.Title,
		StartsAt:   status.Webinar.StartsAt,
		IsActive:   status.Webinar.IsActive,
		Dispatches: dispatches,
	})
}

func toOutcomeResponse(o domain.Outcome) outcomeResponse {
	return outcomeResponse{
		WebinarID:  o.WebinarID,
		Kind:       o.Kind.String(),
		Recipients: o.Recipients,
		Success:    o.Success,
		Failed:     o.Failed,
		Skipped:    o.SkipReason,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadySent), errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
