// README: Admin endpoints for the debt workflow and platform settings.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wasla/internal/http/middleware"
	"wasla/internal/modules/debt"
	"wasla/internal/modules/settings"
)

type AdminHandler struct {
	debts    *debt.Service
	settings *settings.Store
}

func NewAdminHandler(debts *debt.Service, st *settings.Store) *AdminHandler {
	return &AdminHandler{debts: debts, settings: st}
}

func (h *AdminHandler) GetDebtSettings(c *gin.Context) {
	ctx := c.Request.Context()
	out := gin.H{}
	for _, key := range []string{settings.KeyCommissionType, settings.KeyCommissionValue, settings.KeyDebtLimit} {
		v, ok, err := h.settings.Get(ctx, key)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if ok {
			out[key] = v
		} else {
			out[key] = nil
		}
	}
	c.JSON(http.StatusOK, out)
}

type putSettingsRequest struct {
	CommissionType  *string  `json:"commission_type"`
	CommissionValue *float64 `json:"commission_value"`
	DebtLimit       *float64 `json:"debt_limit"`
}

func (h *AdminHandler) PutDebtSettings(c *gin.Context) {
	var req putSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.CommissionType != nil &&
		*req.CommissionType != debt.CommissionFixed && *req.CommissionType != debt.CommissionPercent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commission_type must be fixed or percent"})
		return
	}
	ctx := c.Request.Context()
	if req.CommissionType != nil {
		if err := h.settings.Set(ctx, settings.KeyCommissionType, *req.CommissionType); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}
	if req.CommissionValue != nil {
		if err := h.settings.Set(ctx, settings.KeyCommissionValue,
			strconv.FormatFloat(*req.CommissionValue, 'f', -1, 64)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}
	if req.DebtLimit != nil {
		if err := h.settings.Set(ctx, settings.KeyDebtLimit,
			strconv.FormatFloat(*req.DebtLimit, 'f', -1, 64)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
	}
	h.GetDebtSettings(c)
}

func (h *AdminHandler) ListDebtors(c *gin.Context) {
	drivers, err := h.debts.ListDebtors(c.Request.Context(),
		queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		writeDebtError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drivers": drivers})
}

func (h *AdminHandler) GetDriverDebt(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := h.debts.GetDriver(c.Request.Context(), id)
	if err != nil {
		writeDebtError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver": d})
}

func (h *AdminHandler) ListLedger(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	entries, err := h.debts.ListLedger(c.Request.Context(), id,
		queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		writeDebtError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type payRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

func (h *AdminHandler) Pay(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	admin := middleware.CallerID(c)
	d, err := h.debts.Pay(c.Request.Context(), id, req.Amount, &admin)
	if err != nil {
		writeDebtError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver": d})
}

func (h *AdminHandler) Reset(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	admin := middleware.CallerID(c)
	d, err := h.debts.Reset(c.Request.Context(), id, &admin)
	if err != nil {
		writeDebtError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver": d})
}

type limitOverrideRequest struct {
	Limit *int64 `json:"limit"`
}

func (h *AdminHandler) SetLimitOverride(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req limitOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := h.debts.SetLimitOverride(c.Request.Context(), id, req.Limit); err != nil {
		writeDebtError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver_id": id, "limit": req.Limit})
}
