package http

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jmehdipour/outreach-scheduler/internal/service/outreach"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type enqueueReq struct {
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name"`
}

func enqueueHandler(svc *outreach.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req enqueueReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.ExternalID = strings.TrimSpace(req.ExternalID)
		if req.ExternalID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "external_id is required"})
		}
		if utf8.RuneCountInString(req.DisplayName) > 255 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "display_name too long"})
		}

		e, err := svc.Enqueue(c.Request().Context(), req.ExternalID, req.DisplayName)
		if err != nil {
			if errors.Is(err, outreach.ErrInvalidInput) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}

			log.Errorf("enqueue failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"enqueued":    true,
			"id":          e.ID,
			"external_id": e.ExternalID,
		})
	}
}

type respondedReq struct {
	ExternalID string     `json:"external_id"`
	At         *time.Time `json:"at"`
}

func respondedHandler(svc *outreach.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req respondedReq
		if err := c.Bind(&req); err != nil || strings.TrimSpace(req.ExternalID) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		var at time.Time
		if req.At != nil {
			at = *req.At
		}
		changed, err := svc.MarkResponded(c.Request().Context(), req.ExternalID, at)
		if err != nil {
			if errors.Is(err, outreach.ErrContactNotFound) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "contact not found"})
			}

			log.Errorf("mark responded failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{"updated": changed})
	}
}
