package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/smm-engine/internal/repository"
	"github.com/mmeshcher/smm-engine/internal/validation"
)

type adjustBalanceRequest struct {
	ExternalID int64   `json:"external_id"`
	Amount     float64 `json:"amount"`
	Reason     string  `json:"reason"`
	AdminID    int64   `json:"admin_id"`
	Exempt     bool    `json:"exempt"`
}

// AdjustBalance выполняет операцию оператора над балансом пользователя.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req adjustBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExternalID == 0 || req.Amount == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.AdjustBalance(r.Context(), req.ExternalID, req.Amount, req.Reason, req.AdminID, req.Exempt)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrInsufficientBalance):
			http.Error(w, err.Error(), http.StatusPaymentRequired)
		default:
			h.logger.Error("adjust balance error", zap.Error(err), zap.Int64("externalID", req.ExternalID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}

type overrideRequest struct {
	Price   float64 `json:"price"`
	AdminID int64   `json:"admin_id"`
}

// SetOverride задаёт абсолютную цену услуги.
func (h *Handler) SetOverride(w http.ResponseWriter, r *http.Request) {
	serviceID, err := strconv.ParseInt(chi.URLParam(r, "serviceID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Price <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetPriceOverride(r.Context(), serviceID, req.Price, req.AdminID); err != nil {
		h.logger.Error("set override error", zap.Error(err), zap.Int64("serviceID", serviceID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ResetOverride удаляет оверрайд цены услуги.
func (h *Handler) ResetOverride(w http.ResponseWriter, r *http.Request) {
	serviceID, err := strconv.ParseInt(chi.URLParam(r, "serviceID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.ResetPriceOverride(r.Context(), serviceID); err != nil {
		if errors.Is(err, repository.ErrOverrideNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("reset override error", zap.Error(err), zap.Int64("serviceID", serviceID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type bulkAdjustRequest struct {
	Range   string `json:"range"`
	Percent string `json:"percent"`
	AdminID int64  `json:"admin_id"`
}

// BulkAdjust применяет процентную корректировку к диапазону цен.
func (h *Handler) BulkAdjust(w http.ResponseWriter, r *http.Request) {
	var req bulkAdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	affected, err := h.service.BulkAdjustPrices(r.Context(), req.Range, req.Percent, req.AdminID)
	if err != nil {
		if errors.Is(err, validation.ErrBadRange) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("bulk adjust error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]int{"affected": affected})
}

type bonusResponse struct {
	ID            int64   `json:"id"`
	UserID        int64   `json:"user_id"`
	ReferralCount int     `json:"referral_count"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
}

// GetPendingBonuses возвращает бонусы, ожидающие решения оператора.
func (h *Handler) GetPendingBonuses(w http.ResponseWriter, r *http.Request) {
	bonuses, err := h.service.GetPendingBonuses(r.Context())
	if err != nil {
		h.logger.Error("get pending bonuses error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(bonuses) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]bonusResponse, 0, len(bonuses))
	for _, b := range bonuses {
		resp = append(resp, bonusResponse{
			ID:            b.ID,
			UserID:        b.UserID,
			ReferralCount: b.ReferralCount,
			Amount:        float64(b.Amount) / 100,
			Status:        string(b.Status),
			CreatedAt:     b.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, resp)
}

type bonusDecisionRequest struct {
	AdminID int64 `json:"admin_id"`
}

func (h *Handler) bonusDecision(w http.ResponseWriter, r *http.Request, decide func(bonusID, adminID int64) error) {
	bonusID, err := strconv.ParseInt(chi.URLParam(r, "bonusID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req bonusDecisionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := decide(bonusID, req.AdminID); err != nil {
		if errors.Is(err, repository.ErrBonusProcessed) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("bonus decision error", zap.Error(err), zap.Int64("bonusID", bonusID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ApproveBonus подтверждает бонус и зачисляет его сумму на баланс.
func (h *Handler) ApproveBonus(w http.ResponseWriter, r *http.Request) {
	h.bonusDecision(w, r, func(bonusID, adminID int64) error {
		return h.service.ApproveBonus(r.Context(), bonusID, adminID)
	})
}

// DeclineBonus отклоняет бонус без влияния на баланс.
func (h *Handler) DeclineBonus(w http.ResponseWriter, r *http.Request) {
	h.bonusDecision(w, r, func(bonusID, adminID int64) error {
		return h.service.DeclineBonus(r.Context(), bonusID, adminID)
	})
}

type settingRequest struct {
	Value string `json:"value"`
}

// SetSetting записывает настройку оператора.
func (h *Handler) SetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req settingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetSetting(r.Context(), key, req.Value); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusOK)
}
