package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
	"github.com/jmehdipour/outreach-scheduler/internal/repository"
	"github.com/jmehdipour/outreach-scheduler/internal/service/outreach"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type entryDTO struct {
	ID                    string     `json:"id"`
	ContactID             int64      `json:"contact_id"`
	TemplateID            int64      `json:"template_id"`
	Kind                  string     `json:"kind"`
	ScheduledTime         time.Time  `json:"scheduled_time"`
	OriginalScheduledTime *time.Time `json:"original_scheduled_time,omitempty"`
	Sent                  bool       `json:"sent"`
	SentAt                *time.Time `json:"sent_at,omitempty"`
	Outcome               string     `json:"outcome,omitempty"`
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func toEntryDTO(e model.ScheduleEntry) entryDTO {
	return entryDTO{
		ID:                    e.ID,
		ContactID:             e.ContactID,
		TemplateID:            e.TemplateID,
		Kind:                  e.Kind.String(),
		ScheduledTime:         e.ScheduledTime.UTC(),
		OriginalScheduledTime: utcPtr(e.OriginalScheduledTime),
		Sent:                  e.Sent,
		SentAt:                utcPtr(e.SentAt),
		Outcome:               e.Outcome.String(),
	}
}

// listScheduleHandler lists entries in scheduled order, unsent only unless
// include_sent=true.
func listScheduleHandler(svc *outreach.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		f := repository.EntryFilter{Limit: 100}
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				f.Limit = n
			}
		}
		if v := c.QueryParam("contact_id"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				f.ContactID = n
			}
		}
		if v, err := strconv.ParseBool(c.QueryParam("include_sent")); err == nil {
			f.IncludeSent = v
		}

		entries, err := svc.ListSchedule(c.Request().Context(), f)
		if err != nil {
			log.Errorf("list schedule failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		items := make([]entryDTO, 0, len(entries))
		for _, e := range entries {
			items = append(items, toEntryDTO(e))
		}
		return c.JSON(http.StatusOK, map[string]any{
			"items": items,
			"limit": f.Limit,
		})
	}
}
