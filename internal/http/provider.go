package http

import (
	"net/http"
	"time"

	"github.com/jmehdipour/outreach-scheduler/internal/model"
	"github.com/jmehdipour/outreach-scheduler/internal/service/outreach"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type providerDTO struct {
	Banned      bool       `json:"banned"`
	BannedUntil *time.Time `json:"banned_until,omitempty"`
}

func toProviderDTO(st model.ProviderState) providerDTO {
	dto := providerDTO{Banned: st.Banned}
	if st.BannedUntil != nil {
		u := st.BannedUntil.UTC()
		dto.BannedUntil = &u
	}
	return dto
}

func getProviderHandler(svc *outreach.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		st, err := svc.ProviderState(c.Request().Context())
		if err != nil {
			log.Errorf("get provider state failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, toProviderDTO(st))
	}
}

// putProviderHandler toggles the ban. A ban without banned_until uses the
// configured freeze duration.
func putProviderHandler(svc *outreach.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req providerDTO
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		st, err := svc.SetBanned(c.Request().Context(), req.Banned, req.BannedUntil)
		if err != nil {
			log.Errorf("toggle ban failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, toProviderDTO(st))
	}
}
