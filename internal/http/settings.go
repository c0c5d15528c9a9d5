package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
	"github.com/jmehdipour/outreach-scheduler/internal/service/outreach"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// settingsDTO carries durations in minutes.
type settingsDTO struct {
	MessageIntervalMin  int64      `json:"message_interval_min"`
	BanFreezeMin        int64      `json:"ban_freeze_min"`
	SecondTouchDelayMin int64      `json:"second_touch_delay_min"`
	WorkingHoursStart   int        `json:"working_hours_start"`
	WorkingHoursEnd     int        `json:"working_hours_end"`
	UpdatedAt           *time.Time `json:"updated_at,omitempty"`
}

func toSettingsDTO(s model.Settings) settingsDTO {
	dto := settingsDTO{
		MessageIntervalMin:  int64(s.MessageInterval / time.Minute),
		BanFreezeMin:        int64(s.BanFreeze / time.Minute),
		SecondTouchDelayMin: int64(s.SecondTouchDelay / time.Minute),
		WorkingHoursStart:   s.WorkingHoursStart,
		WorkingHoursEnd:     s.WorkingHoursEnd,
	}
	if !s.UpdatedAt.IsZero() {
		u := s.UpdatedAt.UTC()
		dto.UpdatedAt = &u
	}
	return dto
}

func (d settingsDTO) toModel() model.Settings {
	return model.Settings{
		MessageInterval:   time.Duration(d.MessageIntervalMin) * time.Minute,
		BanFreeze:         time.Duration(d.BanFreezeMin) * time.Minute,
		SecondTouchDelay:  time.Duration(d.SecondTouchDelayMin) * time.Minute,
		WorkingHoursStart: d.WorkingHoursStart,
		WorkingHoursEnd:   d.WorkingHoursEnd,
	}
}

func getSettingsHandler(svc *outreach.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, err := svc.Settings(c.Request().Context())
		if err != nil {
			if errors.Is(err, outreach.ErrNotConfigured) {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "settings not configured"})
			}
			log.Errorf("get settings failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, toSettingsDTO(s))
	}
}

func putSettingsHandler(svc *outreach.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req settingsDTO
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		s, err := svc.UpdateSettings(c.Request().Context(), req.toModel())
		if err != nil {
			if errors.Is(err, outreach.ErrInvalidInput) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			log.Errorf("update settings failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, toSettingsDTO(s))
	}
}

type templateDTO struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func toTemplateDTO(t model.MessageTemplate) templateDTO {
	return templateDTO{ID: t.ID, Kind: t.Kind().String(), Text: t.Text, CreatedAt: t.CreatedAt.UTC()}
}

func listTemplatesHandler(svc *outreach.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		active, err := svc.ActiveTemplates(c.Request().Context())
		if err != nil {
			log.Errorf("list templates failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		items := make([]templateDTO, 0, len(active))
		for _, k := range model.TouchKinds {
			if t, ok := active[k]; ok {
				items = append(items, toTemplateDTO(t))
			}
		}
		return c.JSON(http.StatusOK, map[string]any{"items": items})
	}
}

type templateReq struct {
	Text string `json:"text"`
}

func putTemplateHandler(svc *outreach.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		kind, ok := model.ParseTouchKind(c.Param("kind"))
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid kind"})
		}
		var req templateReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		t, err := svc.SetTemplate(c.Request().Context(), kind, req.Text)
		if err != nil {
			if errors.Is(err, outreach.ErrInvalidInput) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			log.Errorf("set template failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusCreated, toTemplateDTO(t))
	}
}
