// Package service реализует бизнес-логику движка заказов.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/smm-engine/internal/model"
	"github.com/mmeshcher/smm-engine/internal/pricing"
	"github.com/mmeshcher/smm-engine/internal/provider"
	"github.com/mmeshcher/smm-engine/internal/repository"
	"github.com/mmeshcher/smm-engine/internal/validation"
	"github.com/mmeshcher/smm-engine/internal/workflow"
)

// Значения по умолчанию, если настройка отсутствует в хранилище.
const (
	defaultReferralThreshold = 50
	defaultReferralBonus     = 5000
	defaultCurrencyRate      = 90
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetOrCreateUser(ctx context.Context, externalID int64, username, language string) (*model.User, error)
	GetUserByExternalID(ctx context.Context, externalID int64) (*model.User, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	Credit(ctx context.Context, userID, amount int64, reason string) error
	Debit(ctx context.Context, userID, amount int64, reason string, exempt bool) error
	GetTransactionsByUser(ctx context.Context, userID int64) ([]model.BalanceTransaction, error)
	CreateOrderWithDebit(ctx context.Context, order *model.Order, exempt bool) (int64, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetOrdersInProgress(ctx context.Context, limit int) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, providerOrderID string, status model.OrderStatus) error
	GetOverride(ctx context.Context, serviceID int64) (*model.PriceOverride, error)
	SetOverride(ctx context.Context, o model.PriceOverride) error
	DeleteOverride(ctx context.Context, serviceID int64) error
	ApplyBulkAdjustment(ctx context.Context, overrides []model.PriceOverride, audit model.PriceAdjustment) error
	CreateReferral(ctx context.Context, referrerID, referredID int64) error
	CreateBonus(ctx context.Context, userID int64, threshold int, amount int64) (*model.ReferralBonus, error)
	GetBonuses(ctx context.Context, status model.BonusStatus) ([]model.ReferralBonus, error)
	ApproveBonus(ctx context.Context, bonusID, adminID int64) error
	DeclineBonus(ctx context.Context, bonusID, adminID int64) error
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Provider описывает клиент внешней системы выполнения заказов.
type Provider interface {
	Configured() bool
	AddOrder(ctx context.Context, serviceID int64, link string, quantity int) (string, error)
	Status(ctx context.Context, orderID string) (*provider.OrderStatus, error)
}

// Catalog описывает кэш каталога услуг.
type Catalog interface {
	Items(ctx context.Context) ([]model.CatalogItem, error)
	Item(ctx context.Context, serviceID int64) (*model.CatalogItem, error)
	Invalidate()
}

// Service содержит бизнес-логику движка заказов.
type Service struct {
	repo     Repository
	provider Provider
	catalog  Catalog
	flow     *workflow.Machine
}

// NewService создаёт сервис с указанным репозиторием, клиентом провайдера
// и кэшем каталога.
func NewService(repo Repository, prov Provider, cat Catalog, providerTimeout time.Duration) *Service {
	s := &Service{
		repo:     repo,
		provider: prov,
		catalog:  cat,
	}
	s.flow = workflow.NewMachine(cat, s, prov, providerTimeout)
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// withStorageRetry повторяет операцию хранилища не более одного раза
// при временных сбоях, после чего ошибка фатальна для текущей операции.
func (s *Service) withStorageRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(1, retry.NewConstant(200*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && repository.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// RegisterContact создаёт пользователя при первом обращении и, если передан
// код приглашения, привязывает пригласившего. Повторное приглашение — no-op:
// пригласивший назначается не более одного раза, выигрывает первая запись.
func (s *Service) RegisterContact(ctx context.Context, externalID int64, username, language string, referrerExternalID int64) (*model.User, error) {
	var user *model.User
	err := s.withStorageRetry(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.repo.GetOrCreateUser(ctx, externalID, username, language)
		return err
	})
	if err != nil {
		return nil, err
	}

	if referrerExternalID != 0 && referrerExternalID != externalID && user.ReferrerID == nil {
		referrer, err := s.repo.GetUserByExternalID(ctx, referrerExternalID)
		if err == nil {
			if err := s.repo.CreateReferral(ctx, referrer.ID, user.ID); err == nil {
				user.ReferrerID = &referrer.ID
			} else if !errors.Is(err, repository.ErrAlreadyReferred) {
				return nil, err
			}
		} else if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
	}

	// Имя пользователя могло появиться только сейчас, поэтому порог
	// пригласившего перепроверяется при каждом контакте.
	if user.ReferrerID != nil {
		if _, err := s.CheckReferralBonus(ctx, *user.ReferrerID); err != nil {
			return nil, err
		}
	}

	return user, nil
}

// GetUser возвращает пользователя по внешнему идентификатору.
func (s *Service) GetUser(ctx context.Context, externalID int64) (*model.User, error) {
	return s.repo.GetUserByExternalID(ctx, externalID)
}

// GetBalance возвращает баланс пользователя в базовой и отображаемой валютах.
// Неизвестный пользователь лениво создаётся с нулевым балансом.
// Конвертация — только для показа, в хранилище всегда базовая валюта.
func (s *Service) GetBalance(ctx context.Context, externalID int64) (*model.Balance, error) {
	var user *model.User
	err := s.withStorageRetry(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.repo.GetOrCreateUser(ctx, externalID, "", "")
		return err
	})
	if err != nil {
		return nil, err
	}

	rate := s.currencyRate(ctx)

	return &model.Balance{
		Current:   float64(user.Balance) / 100,
		Converted: pricing.Display(user.Balance, rate),
		Currency:  user.Currency,
	}, nil
}

// Credit пополняет баланс пользователя. Сумма в сотых долях, строго положительная.
func (s *Service) Credit(ctx context.Context, userID, amount int64, reason string) error {
	return s.withStorageRetry(ctx, func(ctx context.Context) error {
		return s.repo.Credit(ctx, userID, amount, reason)
	})
}

// Debit списывает средства с баланса пользователя.
func (s *Service) Debit(ctx context.Context, userID, amount int64, reason string, exempt bool) error {
	return s.withStorageRetry(ctx, func(ctx context.Context) error {
		return s.repo.Debit(ctx, userID, amount, reason, exempt)
	})
}

// Balance возвращает баланс по внутреннему идентификатору.
// Используется автоматом оформления при проверке средств.
func (s *Service) Balance(ctx context.Context, userID int64) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}

// CreateOrderWithDebit сохраняет заказ и списание одной транзакцией
// с однократным повтором при временном сбое хранилища.
func (s *Service) CreateOrderWithDebit(ctx context.Context, order *model.Order, exempt bool) (int64, error) {
	var id int64
	err := s.withStorageRetry(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.repo.CreateOrderWithDebit(ctx, order, exempt)
		return err
	})
	return id, err
}

// GetOrdersByUser возвращает историю заказов пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, externalID int64) ([]model.Order, error) {
	user, err := s.repo.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetOrdersByUser(ctx, user.ID)
}

// GetTransactionsByUser возвращает журнал операций пользователя.
func (s *Service) GetTransactionsByUser(ctx context.Context, externalID int64) ([]model.BalanceTransaction, error) {
	user, err := s.repo.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetTransactionsByUser(ctx, user.ID)
}

// GetCatalog возвращает каталог услуг с разрешёнными ценами.
func (s *Service) GetCatalog(ctx context.Context) ([]model.CatalogItem, error) {
	return s.catalog.Items(ctx)
}

// SelectService начинает оформление заказа для пользователя.
func (s *Service) SelectService(ctx context.Context, externalID, serviceID int64) (*workflow.Session, error) {
	user, err := s.repo.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.flow.SelectService(ctx, user.ID, serviceID)
}

// SubmitQuantity передаёт количество в сессию оформления.
func (s *Service) SubmitQuantity(ctx context.Context, externalID int64, quantity int) (*workflow.Session, error) {
	user, err := s.repo.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.flow.SubmitQuantity(ctx, user.ID, quantity)
}

// SubmitLink передаёт адрес назначения в сессию оформления.
func (s *Service) SubmitLink(ctx context.Context, externalID int64, link string) (*workflow.Session, error) {
	user, err := s.repo.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.flow.SubmitLink(ctx, user.ID, link)
}

// SubmitInput передаёт свободный текстовый ввод в сессию оформления.
func (s *Service) SubmitInput(ctx context.Context, externalID int64, text string) (*workflow.Session, error) {
	user, err := s.repo.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.flow.Input(ctx, user.ID, text)
}

// ConfirmOrder подтверждает оформляемый заказ.
func (s *Service) ConfirmOrder(ctx context.Context, externalID int64, exempt bool) (*model.Order, error) {
	user, err := s.repo.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return s.flow.Confirm(ctx, user.ID, exempt)
}

// CancelOrder отменяет оформление без побочных эффектов.
func (s *Service) CancelOrder(ctx context.Context, externalID int64) error {
	user, err := s.repo.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	s.flow.Cancel(user.ID)
	return nil
}

// GetSession возвращает текущую сессию оформления пользователя
// для ресинхронизации фронтенда после перезапуска.
func (s *Service) GetSession(ctx context.Context, externalID int64) (*workflow.Session, error) {
	user, err := s.repo.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	sess, ok := s.flow.Session(user.ID)
	if !ok {
		return nil, workflow.ErrNoSession
	}
	return sess, nil
}

// CheckReferralBonus проверяет порог приглашений пользователя и при его
// пересечении создаёт одну ожидающую запись бонуса. Идемпотентна:
// повторный вызов без новых приглашений ничего не создаёт.
func (s *Service) CheckReferralBonus(ctx context.Context, userID int64) (*model.ReferralBonus, error) {
	threshold := s.referralThreshold(ctx)
	amount := s.referralBonusAmount(ctx)

	var bonus *model.ReferralBonus
	err := s.withStorageRetry(ctx, func(ctx context.Context) error {
		var err error
		bonus, err = s.repo.CreateBonus(ctx, userID, threshold, amount)
		return err
	})
	return bonus, err
}

// GetPendingBonuses возвращает бонусы, ожидающие решения оператора.
func (s *Service) GetPendingBonuses(ctx context.Context) ([]model.ReferralBonus, error) {
	return s.repo.GetBonuses(ctx, model.BonusStatusPending)
}

// ApproveBonus подтверждает бонус и зачисляет его сумму на баланс.
// Повторное подтверждение возвращает repository.ErrBonusProcessed.
func (s *Service) ApproveBonus(ctx context.Context, bonusID, adminID int64) error {
	return s.withStorageRetry(ctx, func(ctx context.Context) error {
		return s.repo.ApproveBonus(ctx, bonusID, adminID)
	})
}

// DeclineBonus отклоняет бонус без влияния на баланс.
func (s *Service) DeclineBonus(ctx context.Context, bonusID, adminID int64) error {
	return s.repo.DeclineBonus(ctx, bonusID, adminID)
}

// AdjustBalance выполняет операцию оператора над балансом пользователя:
// положительная сумма зачисляется, отрицательная списывается.
func (s *Service) AdjustBalance(ctx context.Context, externalID int64, amount float64, reason string, adminID int64, exempt bool) error {
	user, err := s.repo.GetUserByExternalID(ctx, externalID)
	if err != nil {
		return err
	}

	cents := int64(amount * 100)
	if cents == 0 {
		return errors.New("adjustment amount must be non-zero")
	}

	fullReason := fmt.Sprintf("admin %d: %s", adminID, reason)
	if cents > 0 {
		return s.Credit(ctx, user.ID, cents, fullReason)
	}
	return s.Debit(ctx, user.ID, -cents, fullReason, exempt)
}

// SetPriceOverride задаёт абсолютную цену услуги и инвалидирует кэш каталога,
// чтобы следующее чтение сразу увидело новую цену.
func (s *Service) SetPriceOverride(ctx context.Context, serviceID int64, price float64, adminID int64) error {
	item, err := s.catalog.Item(ctx, serviceID)
	if err != nil {
		return err
	}

	cents := int64(price * 100)
	if cents <= 0 {
		return errors.New("override price must be positive")
	}

	err = s.repo.SetOverride(ctx, model.PriceOverride{
		ServiceID:    serviceID,
		OriginalRate: item.Rate,
		Price:        cents,
		SetBy:        adminID,
	})
	if err != nil {
		return err
	}

	s.catalog.Invalidate()
	return nil
}

// ResetPriceOverride удаляет оверрайд услуги и инвалидирует кэш каталога.
func (s *Service) ResetPriceOverride(ctx context.Context, serviceID int64) error {
	if err := s.repo.DeleteOverride(ctx, serviceID); err != nil {
		return err
	}
	s.catalog.Invalidate()
	return nil
}

// BulkAdjustPrices применяет процентную дельту ко всем услугам, чья текущая
// отображаемая цена попадает в диапазон rangeText. Для каждой затронутой
// услуги записывается индивидуальный оверрайд, плюс одна запись аудита.
// Возвращает число затронутых услуг.
func (s *Service) BulkAdjustPrices(ctx context.Context, rangeText, percentText string, adminID int64) (int, error) {
	minPrice, maxPrice, err := validation.ParsePriceRange(rangeText)
	if err != nil {
		return 0, err
	}

	pct, err := validation.ParsePercent(percentText)
	if err != nil {
		return 0, err
	}

	items, err := s.catalog.Items(ctx)
	if err != nil {
		return 0, err
	}

	targets := pricing.BulkTargets(items, minPrice, maxPrice, pct)
	if len(targets) == 0 {
		return 0, nil
	}

	overrides := make([]model.PriceOverride, 0, len(targets))
	for _, t := range targets {
		overrides = append(overrides, model.PriceOverride{
			ServiceID:    t.ServiceID,
			OriginalRate: t.OriginalRate,
			Price:        t.Price,
			SetBy:        adminID,
		})
	}

	audit := model.PriceAdjustment{
		MinPrice:    minPrice,
		MaxPrice:    maxPrice,
		Percent:     pct,
		Affected:    len(targets),
		PerformedBy: adminID,
	}

	err = s.withStorageRetry(ctx, func(ctx context.Context) error {
		return s.repo.ApplyBulkAdjustment(ctx, overrides, audit)
	})
	if err != nil {
		return 0, err
	}

	s.catalog.Invalidate()
	return len(targets), nil
}

// SetSetting записывает настройку оператора.
func (s *Service) SetSetting(ctx context.Context, key, value string) error {
	switch key {
	case model.SettingReferralThreshold, model.SettingReferralBonus, model.SettingCurrencyRate:
		return s.repo.SetSetting(ctx, key, value)
	}
	return fmt.Errorf("unknown setting %q", key)
}

// GetDisplayRate возвращает курс отображаемой валюты.
func (s *Service) GetDisplayRate(ctx context.Context) float64 {
	return s.currencyRate(ctx)
}

func (s *Service) referralThreshold(ctx context.Context) int {
	if raw, err := s.repo.GetSetting(ctx, model.SettingReferralThreshold); err == nil && raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return defaultReferralThreshold
}

func (s *Service) referralBonusAmount(ctx context.Context) int64 {
	if raw, err := s.repo.GetSetting(ctx, model.SettingReferralBonus); err == nil && raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			return v
		}
	}
	return defaultReferralBonus
}

func (s *Service) currencyRate(ctx context.Context) float64 {
	if raw, err := s.repo.GetSetting(ctx, model.SettingCurrencyRate); err == nil && raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			return v
		}
	}
	return defaultCurrencyRate
}

// StartStatusUpdates запускает фоновый опрос статусов заказов у провайдера.
// Опрос информационный и никогда не трогает баланс.
func (s *Service) StartStatusUpdates(ctx context.Context, interval time.Duration) {
	if s.provider == nil || !s.provider.Configured() {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processStatusBatch(ctx)
			}
		}
	}()
}

func (s *Service) processStatusBatch(ctx context.Context) {
	orders, err := s.repo.GetOrdersInProgress(ctx, 100)
	if err != nil {
		return
	}

	for _, o := range orders {
		if o.Status.Final() {
			continue
		}

		// Синтетические заказы тестового режима провайдеру неизвестны.
		if strings.HasPrefix(o.ProviderOrderID, "dry-") {
			continue
		}

		st, err := s.provider.Status(ctx, o.ProviderOrderID)
		if err != nil || st == nil {
			continue
		}

		status := model.OrderStatus(st.Status)
		switch status {
		case model.OrderStatusPending, model.OrderStatusInProgress, model.OrderStatusProcessing,
			model.OrderStatusCompleted, model.OrderStatusPartial, model.OrderStatusCanceled:
		default:
			continue
		}

		if status == o.Status {
			continue
		}

		_ = s.repo.UpdateOrderStatus(ctx, o.ProviderOrderID, status)
	}
}
