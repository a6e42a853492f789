// Package model содержит доменные сущности движка заказов.
package model

import "time"

// Вся денежная арифметика ведётся в сотых долях базовой валюты (int64).
// Тарифы провайдера хранятся как цена за 1000 единиц в тех же сотых долях.

// User представляет пользователя маркетплейса.
type User struct {
	ID         int64
	ExternalID int64
	Username   string
	Currency   string
	Language   string
	ReferrerID *int64
	Balance    int64
	CreatedAt  time.Time
}

// TransactionKind описывает направление операции по балансу.
type TransactionKind string

const (
	TransactionCredit TransactionKind = "credit"
	TransactionDebit  TransactionKind = "debit"
)

// BalanceTransaction описывает одну операцию по балансу пользователя.
// Записи неизменяемы: сумма подписанных amount по пользователю равна его балансу.
type BalanceTransaction struct {
	ID        int64
	UserID    int64
	Amount    int64
	Kind      TransactionKind
	Reason    string
	CreatedAt time.Time
}

// CatalogItem описывает услугу из каталога провайдера.
// Rate — исходный тариф провайдера, Price — тариф к списанию после резолвинга.
type CatalogItem struct {
	ServiceID  int64
	Name       string
	Category   string
	Rate       int64
	Price      int64
	Overridden bool
	Min        int
	Max        int
}

// PriceOverride задаёт абсолютную цену услуги, отменяющую наценку.
type PriceOverride struct {
	ServiceID    int64
	OriginalRate int64
	Price        int64
	SetBy        int64
	CreatedAt    time.Time
}

// PriceAdjustment — запись аудита массовой корректировки цен.
type PriceAdjustment struct {
	ID          int64
	MinPrice    int64
	MaxPrice    int64
	Percent     float64
	Affected    int
	PerformedBy int64
	CreatedAt   time.Time
}

// OrderStatus описывает статус заказа у провайдера.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusInProgress OrderStatus = "In progress"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusCompleted  OrderStatus = "Completed"
	OrderStatusPartial    OrderStatus = "Partial"
	OrderStatusCanceled   OrderStatus = "Canceled"
)

// Final сообщает, является ли статус заказа терминальным.
func (s OrderStatus) Final() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusPartial, OrderStatusCanceled:
		return true
	}
	return false
}

// Order описывает оформленный заказ. Price — фактически списанная сумма,
// зафиксированная на момент подтверждения и не зависящая от текущего каталога.
type Order struct {
	ID              int64
	UserID          int64
	ProviderOrderID string
	ServiceID       int64
	ServiceName     string
	Quantity        int
	Link            string
	Price           int64
	Status          OrderStatus
	CreatedAt       time.Time
}

// BonusStatus описывает состояние реферального бонуса.
type BonusStatus string

const (
	BonusStatusPending  BonusStatus = "pending"
	BonusStatusApproved BonusStatus = "approved"
	BonusStatusDeclined BonusStatus = "declined"
)

// ReferralBonus — начисление за преодоление порога приглашений.
// ReferralCount фиксирует, сколько приглашений покрывает эта запись.
type ReferralBonus struct {
	ID            int64
	UserID        int64
	ReferralCount int
	Amount        int64
	Status        BonusStatus
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	ProcessedBy   *int64
}

// Ключи настроек, управляемых оператором.
const (
	SettingReferralThreshold = "referral_threshold"
	SettingReferralBonus     = "referral_bonus"
	SettingCurrencyRate      = "currency_rate"
)

// Balance содержит баланс пользователя в базовой и отображаемой валютах.
type Balance struct {
	Current   float64 `json:"current"`
	Converted float64 `json:"converted"`
	Currency  string  `json:"currency"`
}
