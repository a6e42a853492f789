// Package handler содержит HTTP-обработчики API движка заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/smm-engine/internal/catalog"
	"github.com/mmeshcher/smm-engine/internal/middleware"
	"github.com/mmeshcher/smm-engine/internal/model"
	"github.com/mmeshcher/smm-engine/internal/repository"
	"github.com/mmeshcher/smm-engine/internal/validation"
	"github.com/mmeshcher/smm-engine/internal/workflow"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterContact(ctx context.Context, externalID int64, username, language string, referrerExternalID int64) (*model.User, error)
	GetBalance(ctx context.Context, externalID int64) (*model.Balance, error)
	GetOrdersByUser(ctx context.Context, externalID int64) ([]model.Order, error)
	GetTransactionsByUser(ctx context.Context, externalID int64) ([]model.BalanceTransaction, error)
	GetCatalog(ctx context.Context) ([]model.CatalogItem, error)
	GetDisplayRate(ctx context.Context) float64

	SelectService(ctx context.Context, externalID, serviceID int64) (*workflow.Session, error)
	SubmitQuantity(ctx context.Context, externalID int64, quantity int) (*workflow.Session, error)
	SubmitLink(ctx context.Context, externalID int64, link string) (*workflow.Session, error)
	SubmitInput(ctx context.Context, externalID int64, text string) (*workflow.Session, error)
	ConfirmOrder(ctx context.Context, externalID int64, exempt bool) (*model.Order, error)
	CancelOrder(ctx context.Context, externalID int64) error
	GetSession(ctx context.Context, externalID int64) (*workflow.Session, error)

	AdjustBalance(ctx context.Context, externalID int64, amount float64, reason string, adminID int64, exempt bool) error
	SetPriceOverride(ctx context.Context, serviceID int64, price float64, adminID int64) error
	ResetPriceOverride(ctx context.Context, serviceID int64) error
	BulkAdjustPrices(ctx context.Context, rangeText, percentText string, adminID int64) (int, error)
	GetPendingBonuses(ctx context.Context) ([]model.ReferralBonus, error)
	ApproveBonus(ctx context.Context, bonusID, adminID int64) error
	DeclineBonus(ctx context.Context, bonusID, adminID int64) error
	SetSetting(ctx context.Context, key, value string) error
}

// Handler реализует HTTP-обработчики API движка заказов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	adminToken     string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, adminToken string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		adminToken:     adminToken,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type registerRequest struct {
	ExternalID int64  `json:"external_id"`
	Username   string `json:"username"`
	Language   string `json:"language"`
	ReferrerID int64  `json:"referrer_id"`
}

// RegisterContact регистрирует первый контакт пользователя и привязку пригласившего.
func (h *Handler) RegisterContact(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExternalID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.RegisterContact(r.Context(), req.ExternalID, req.Username, req.Language, req.ReferrerID)
	if err != nil {
		h.logger.Error("register contact error", zap.Error(err), zap.Int64("externalID", req.ExternalID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"external_id": user.ExternalID,
		"referred":    user.ReferrerID != nil,
		"token":       h.authMiddleware.Token(user.ExternalID),
	})
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, balance)
}

type orderResponse struct {
	ID              int64   `json:"id"`
	ProviderOrderID string  `json:"provider_order_id"`
	ServiceID       int64   `json:"service_id"`
	ServiceName     string  `json:"service_name"`
	Quantity        int     `json:"quantity"`
	Link            string  `json:"link"`
	Price           float64 `json:"price"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
}

func toOrderResponse(o model.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		ProviderOrderID: o.ProviderOrderID,
		ServiceID:       o.ServiceID,
		ServiceName:     o.ServiceName,
		Quantity:        o.Quantity,
		Link:            o.Link,
		Price:           float64(o.Price) / 100,
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
	}
}

// GetOrders возвращает историю заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	writeJSON(w, resp)
}

type transactionResponse struct {
	Amount    float64 `json:"amount"`
	Kind      string  `json:"kind"`
	Reason    string  `json:"reason"`
	CreatedAt string  `json:"created_at"`
}

// GetTransactions возвращает журнал операций текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	transactions, err := h.service.GetTransactionsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get transactions error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for _, t := range transactions {
		resp = append(resp, transactionResponse{
			Amount:    float64(t.Amount) / 100,
			Kind:      string(t.Kind),
			Reason:    t.Reason,
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, resp)
}

type catalogItemResponse struct {
	ServiceID  int64   `json:"service_id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Price      float64 `json:"price"`
	Overridden bool    `json:"overridden"`
	Min        int     `json:"min"`
	Max        int     `json:"max"`
}

// GetCatalog возвращает каталог услуг с разрешёнными ценами.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.GetCatalog(r.Context())
	if err != nil {
		h.logger.Error("get catalog error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	resp := make([]catalogItemResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, catalogItemResponse{
			ServiceID:  it.ServiceID,
			Name:       it.Name,
			Category:   it.Category,
			Price:      float64(it.Price) / 100,
			Overridden: it.Overridden,
			Min:        it.Min,
			Max:        it.Max,
		})
	}
	writeJSON(w, resp)
}

type sessionResponse struct {
	State         string  `json:"state"`
	ServiceID     int64   `json:"service_id,omitempty"`
	ServiceName   string  `json:"service_name,omitempty"`
	UnitPrice     float64 `json:"unit_price,omitempty"`
	Min           int     `json:"min,omitempty"`
	Max           int     `json:"max,omitempty"`
	Quantity      int     `json:"quantity,omitempty"`
	Link          string  `json:"link,omitempty"`
	Cost          float64 `json:"cost,omitempty"`
	CostConverted float64 `json:"cost_converted,omitempty"`
}

func (h *Handler) toSessionResponse(ctx context.Context, sess *workflow.Session) sessionResponse {
	resp := sessionResponse{
		State:       string(sess.State),
		ServiceID:   sess.ServiceID,
		ServiceName: sess.ServiceName,
		UnitPrice:   float64(sess.UnitPrice) / 100,
		Min:         sess.Min,
		Max:         sess.Max,
		Quantity:    sess.Quantity,
		Link:        sess.Link,
		Cost:        float64(sess.Cost) / 100,
	}
	if sess.Cost > 0 {
		resp.CostConverted = float64(sess.Cost) / 100 * h.service.GetDisplayRate(ctx)
	}
	return resp
}

// writeWorkflowError транслирует ошибки автомата оформления в HTTP-статусы.
// Ошибки валидации и нехватки средств оставляют состояние неизменным.
// Отказ провайдера отличим от исчерпанных повторов хранилища: 502 против 500.
func (h *Handler) writeWorkflowError(w http.ResponseWriter, userID int64, err error) {
	switch {
	case errors.Is(err, workflow.ErrNoSession), errors.Is(err, workflow.ErrWrongState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, workflow.ErrInvalidQuantity), errors.Is(err, workflow.ErrUnrecognizedInput):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, workflow.ErrInsufficientFunds), errors.Is(err, repository.ErrInsufficientBalance):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, repository.ErrUserNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, catalog.ErrItemNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, workflow.ErrProviderUnavailable):
		h.logger.Error("provider error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	default:
		h.logger.Error("workflow error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type selectRequest struct {
	ServiceID int64 `json:"service_id"`
}

// SelectService начинает оформление заказа выбором услуги.
func (h *Handler) SelectService(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ServiceID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sess, err := h.service.SelectService(r.Context(), userID, req.ServiceID)
	if err != nil {
		h.writeWorkflowError(w, userID, err)
		return
	}
	writeJSON(w, h.toSessionResponse(r.Context(), sess))
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// SubmitQuantity принимает количество для оформляемого заказа.
func (h *Handler) SubmitQuantity(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if _, ok := validation.ParseQuantity(strconv.Itoa(req.Quantity)); !ok {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	sess, err := h.service.SubmitQuantity(r.Context(), userID, req.Quantity)
	if err != nil {
		h.writeWorkflowError(w, userID, err)
		return
	}
	writeJSON(w, h.toSessionResponse(r.Context(), sess))
}

type linkRequest struct {
	Link string `json:"link"`
}

// SubmitLink принимает адрес назначения для оформляемого заказа.
func (h *Handler) SubmitLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Link == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sess, err := h.service.SubmitLink(r.Context(), userID, req.Link)
	if err != nil {
		h.writeWorkflowError(w, userID, err)
		return
	}
	writeJSON(w, h.toSessionResponse(r.Context(), sess))
}

type inputRequest struct {
	Text string `json:"text"`
}

// SubmitInput принимает свободный текстовый ввод пользователя.
func (h *Handler) SubmitInput(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sess, err := h.service.SubmitInput(r.Context(), userID, req.Text)
	if err != nil {
		h.writeWorkflowError(w, userID, err)
		return
	}
	writeJSON(w, h.toSessionResponse(r.Context(), sess))
}

type confirmRequest struct {
	Exempt bool `json:"exempt"`
}

// ConfirmOrder подтверждает оформляемый заказ. Флаг exempt пропускает
// проверку средств и принимается только с токеном оператора.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req confirmRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if req.Exempt && (h.adminToken == "" || r.Header.Get(middleware.AdminHeader) != h.adminToken) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	order, err := h.service.ConfirmOrder(r.Context(), userID, req.Exempt)
	if err != nil {
		h.writeWorkflowError(w, userID, err)
		return
	}

	writeJSON(w, toOrderResponse(*order))
}

// CancelOrder отменяет оформление без побочных эффектов.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if err := h.service.CancelOrder(r.Context(), userID); err != nil {
		h.writeWorkflowError(w, userID, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetSession возвращает текущее состояние оформления для ресинхронизации фронтенда.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	sess, err := h.service.GetSession(r.Context(), userID)
	if err != nil {
		if errors.Is(err, workflow.ErrNoSession) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeWorkflowError(w, userID, err)
		return
	}
	writeJSON(w, h.toSessionResponse(r.Context(), sess))
}
