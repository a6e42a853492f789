// Package workflow реализует конечный автомат оформления заказа:
// выбор услуги, количество, адрес назначения, подтверждение.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/smm-engine/internal/model"
	"github.com/mmeshcher/smm-engine/internal/pricing"
	"github.com/mmeshcher/smm-engine/internal/validation"
)

// ErrNoSession возвращается для интента без активной сессии оформления.
var (
	ErrNoSession = errors.New("no active order session")
	// ErrWrongState возвращается для интента, невозможного в текущем состоянии.
	ErrWrongState = errors.New("intent not allowed in current state")
	// ErrInvalidQuantity возвращается при количестве вне границ услуги.
	ErrInvalidQuantity = errors.New("quantity out of bounds")
	// ErrUnrecognizedInput возвращается, когда свободный ввод не подходит ни одному полю.
	ErrUnrecognizedInput = errors.New("unrecognized input")
	// ErrInsufficientFunds возвращается при нехватке средств на подтверждении.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrProviderUnavailable оборачивает отказ внешней системы выполнения заказов.
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// Catalog описывает доступ к каталогу услуг с разрешёнными ценами.
type Catalog interface {
	Item(ctx context.Context, serviceID int64) (*model.CatalogItem, error)
}

// Ledger описывает операции с балансом, нужные автомату.
type Ledger interface {
	Balance(ctx context.Context, userID int64) (int64, error)
	CreateOrderWithDebit(ctx context.Context, order *model.Order, exempt bool) (int64, error)
}

// Provider описывает отправку заказа во внешнюю систему выполнения.
type Provider interface {
	Configured() bool
	AddOrder(ctx context.Context, serviceID int64, link string, quantity int) (string, error)
}

// Machine управляет сессиями оформления заказов. Каждый переход выполняет
// один ограниченный блок работы и возвращается, не удерживая блокировок
// между шагами: автомат безопасно приостанавливается в ожидании ввода.
type Machine struct {
	catalog         Catalog
	ledger          Ledger
	provider        Provider
	providerTimeout time.Duration
	sessions        *sessionStore
}

// NewMachine создаёт автомат оформления заказов.
func NewMachine(catalog Catalog, ledger Ledger, provider Provider, providerTimeout time.Duration) *Machine {
	return &Machine{
		catalog:         catalog,
		ledger:          ledger,
		provider:        provider,
		providerTimeout: providerTimeout,
		sessions:        newSessionStore(),
	}
}

// Session возвращает текущую сессию оформления пользователя.
func (m *Machine) Session(userID int64) (*Session, bool) {
	return m.sessions.get(userID)
}

// SelectService начинает оформление: выбирает услугу и фиксирует её
// разрешённую цену в сессии. Предыдущая незавершённая сессия отбрасывается.
func (m *Machine) SelectService(ctx context.Context, userID, serviceID int64) (*Session, error) {
	item, err := m.catalog.Item(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		UserID:      userID,
		State:       StateSelectingQuantity,
		ServiceID:   item.ServiceID,
		ServiceName: item.Name,
		UnitPrice:   item.Price,
		Min:         item.Min,
		Max:         item.Max,
	}
	m.sessions.put(sess)

	return sess, nil
}

// SubmitQuantity принимает количество. Границы берутся из текущего каталога,
// а не из снимка в сессии. Нарушение границ оставляет состояние неизменным.
// Валидное количество принимается из любого состояния с выбранной услугой
// (правило терпимого повторного входа).
func (m *Machine) SubmitQuantity(ctx context.Context, userID int64, quantity int) (*Session, error) {
	sess, ok := m.sessions.get(userID)
	if !ok || sess.ServiceID == 0 {
		return nil, ErrNoSession
	}

	item, err := m.catalog.Item(ctx, sess.ServiceID)
	if err != nil {
		return nil, err
	}

	if quantity < item.Min || quantity > item.Max {
		return sess, fmt.Errorf("%w: %d..%d", ErrInvalidQuantity, item.Min, item.Max)
	}

	sess.Min = item.Min
	sess.Max = item.Max
	sess.Quantity = quantity
	if sess.Link != "" {
		sess.Cost = pricing.Cost(sess.UnitPrice, quantity)
		sess.State = StateConfirming
	} else {
		sess.State = StateEnteringLink
	}
	m.sessions.put(sess)

	return sess, nil
}

// SubmitLink принимает адрес назначения как есть, без валидации URL,
// и переводит сессию к подтверждению с рассчитанной стоимостью.
func (m *Machine) SubmitLink(ctx context.Context, userID int64, link string) (*Session, error) {
	sess, ok := m.sessions.get(userID)
	if !ok {
		return nil, ErrNoSession
	}
	if sess.State != StateEnteringLink {
		return sess, ErrWrongState
	}

	sess.Link = link
	sess.Cost = pricing.Cost(sess.UnitPrice, sess.Quantity)
	sess.State = StateConfirming
	m.sessions.put(sess)

	return sess, nil
}

// Input обрабатывает свободный текстовый ввод. Ввод, являющийся валидным
// количеством, трактуется как количество из любого состояния, даже если
// фронтенд ожидал другое поле; в состоянии ввода адреса прочий текст
// принимается как адрес назначения.
func (m *Machine) Input(ctx context.Context, userID int64, text string) (*Session, error) {
	sess, ok := m.sessions.get(userID)
	if !ok {
		return nil, ErrNoSession
	}

	if q, ok := validation.ParseQuantity(text); ok && sess.ServiceID != 0 {
		return m.SubmitQuantity(ctx, userID, q)
	}

	if sess.State == StateEnteringLink {
		return m.SubmitLink(ctx, userID, text)
	}

	return sess, ErrUnrecognizedInput
}

// Confirm завершает оформление: повторно проверяет границы количества по
// текущему каталогу и средства, отправляет заказ провайдеру с ограниченным
// таймаутом и одной транзакцией сохраняет заказ со списанием. Списание
// происходит только после подтверждения провайдера. Нарушение границ и
// недостаток средств оставляют сессию в подтверждении; ошибка провайдера или
// хранилища завершает попытку и очищает сессию без каких-либо списаний.
func (m *Machine) Confirm(ctx context.Context, userID int64, exempt bool) (*model.Order, error) {
	sess, ok := m.sessions.get(userID)
	if !ok {
		return nil, ErrNoSession
	}
	if sess.State != StateConfirming {
		return nil, ErrWrongState
	}

	item, err := m.catalog.Item(ctx, sess.ServiceID)
	if err != nil {
		return nil, err
	}
	if sess.Quantity < item.Min || sess.Quantity > item.Max {
		return nil, fmt.Errorf("%w: %d..%d", ErrInvalidQuantity, item.Min, item.Max)
	}

	if !exempt {
		balance, err := m.ledger.Balance(ctx, userID)
		if err != nil {
			return nil, err
		}
		if balance < sess.Cost {
			return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, balance, sess.Cost)
		}
	}

	providerOrderID, err := m.placeOrder(ctx, sess)
	if err != nil {
		m.sessions.delete(userID)
		return nil, err
	}

	order := &model.Order{
		UserID:          userID,
		ProviderOrderID: providerOrderID,
		ServiceID:       sess.ServiceID,
		ServiceName:     sess.ServiceName,
		Quantity:        sess.Quantity,
		Link:            sess.Link,
		Price:           sess.Cost,
		Status:          model.OrderStatusPending,
	}

	id, err := m.ledger.CreateOrderWithDebit(ctx, order, exempt)
	if err != nil {
		m.sessions.delete(userID)
		return nil, err
	}
	order.ID = id

	m.sessions.delete(userID)
	return order, nil
}

// placeOrder отправляет заказ провайдеру. Без настроенного провайдера
// выдаётся синтетический идентификатор с префиксом dry-, отличимый от
// настоящих: отказ настроенного провайдера никогда не выдаётся за успех.
func (m *Machine) placeOrder(ctx context.Context, sess *Session) (string, error) {
	if !m.provider.Configured() {
		return "dry-" + uuid.NewString(), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.providerTimeout)
	defer cancel()

	id, err := m.provider.AddOrder(callCtx, sess.ServiceID, sess.Link, sess.Quantity)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrProviderUnavailable, err)
	}
	return id, nil
}

// Cancel отбрасывает сессию оформления без побочных эффектов.
// Допустим из любого состояния до подтверждения.
func (m *Machine) Cancel(userID int64) {
	m.sessions.delete(userID)
}
