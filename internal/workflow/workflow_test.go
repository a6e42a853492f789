package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mmeshcher/smm-engine/internal/model"
)

type stubCatalog struct {
	items map[int64]model.CatalogItem
}

func (s *stubCatalog) Item(ctx context.Context, serviceID int64) (*model.CatalogItem, error) {
	it, ok := s.items[serviceID]
	if !ok {
		return nil, errors.New("item not found")
	}
	return &it, nil
}

type stubLedger struct {
	balance   int64
	orders    []model.Order
	debits    []int64
	createErr error
}

func (s *stubLedger) Balance(ctx context.Context, userID int64) (int64, error) {
	return s.balance, nil
}

func (s *stubLedger) CreateOrderWithDebit(ctx context.Context, order *model.Order, exempt bool) (int64, error) {
	if s.createErr != nil {
		return 0, s.createErr
	}
	if !exempt && s.balance < order.Price {
		return 0, errors.New("insufficient balance")
	}
	s.balance -= order.Price
	s.orders = append(s.orders, *order)
	s.debits = append(s.debits, order.Price)
	return int64(len(s.orders)), nil
}

type stubProvider struct {
	configured bool
	orderID    string
	err        error
	calls      int
}

func (s *stubProvider) Configured() bool { return s.configured }

func (s *stubProvider) AddOrder(ctx context.Context, serviceID int64, link string, quantity int) (string, error) {
	s.calls++
	return s.orderID, s.err
}

func newTestMachine(ledger *stubLedger, prov *stubProvider) *Machine {
	cat := &stubCatalog{items: map[int64]model.CatalogItem{
		1: {ServiceID: 1, Name: "likes", Rate: 50, Price: 100, Min: 100, Max: 10000},
	}}
	return NewMachine(cat, ledger, prov, time.Second)
}

// Сквозной сценарий: тариф 0.50 за 1000 с наценкой даёт 1.00, количество 2000 —
// стоимость 2.00; при балансе 5.00 списание успешно и остаток 3.00.
func TestConfirm_HappyPath(t *testing.T) {
	ledger := &stubLedger{balance: 500}
	prov := &stubProvider{configured: true, orderID: "777"}
	m := newTestMachine(ledger, prov)

	ctx := context.Background()

	sess, err := m.SelectService(ctx, 42, 1)
	if err != nil {
		t.Fatalf("SelectService error: %v", err)
	}
	if sess.State != StateSelectingQuantity || sess.UnitPrice != 100 {
		t.Fatalf("session after select = %+v", sess)
	}

	sess, err = m.SubmitQuantity(ctx, 42, 2000)
	if err != nil {
		t.Fatalf("SubmitQuantity error: %v", err)
	}
	if sess.State != StateEnteringLink {
		t.Fatalf("state = %s, want %s", sess.State, StateEnteringLink)
	}

	sess, err = m.SubmitLink(ctx, 42, "https://example.com/p/1")
	if err != nil {
		t.Fatalf("SubmitLink error: %v", err)
	}
	if sess.State != StateConfirming || sess.Cost != 200 {
		t.Fatalf("session before confirm = %+v, want confirming with cost 200", sess)
	}

	order, err := m.Confirm(ctx, 42, false)
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}

	if order.ProviderOrderID != "777" || order.Price != 200 {
		t.Fatalf("order = %+v, want provider id 777 price 200", order)
	}
	if ledger.balance != 300 {
		t.Fatalf("balance = %d, want 300", ledger.balance)
	}
	if len(ledger.orders) != 1 || len(ledger.debits) != 1 {
		t.Fatalf("orders = %d, debits = %d, want exactly one each", len(ledger.orders), len(ledger.debits))
	}

	// Терминальный переход очищает сессию.
	if _, ok := m.Session(42); ok {
		t.Fatalf("session must be cleared after confirm")
	}
}

func TestSubmitQuantity_OutOfBounds(t *testing.T) {
	m := newTestMachine(&stubLedger{}, &stubProvider{})
	ctx := context.Background()

	if _, err := m.SelectService(ctx, 1, 1); err != nil {
		t.Fatalf("SelectService error: %v", err)
	}

	sess, err := m.SubmitQuantity(ctx, 1, 50)
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	// Состояние не меняется: пользователь остаётся на вводе количества.
	if sess.State != StateSelectingQuantity {
		t.Fatalf("state = %s, want %s", sess.State, StateSelectingQuantity)
	}
}

func TestInput_TolerantQuantityReentry(t *testing.T) {
	m := newTestMachine(&stubLedger{}, &stubProvider{})
	ctx := context.Background()

	if _, err := m.SelectService(ctx, 1, 1); err != nil {
		t.Fatalf("SelectService error: %v", err)
	}
	if _, err := m.SubmitQuantity(ctx, 1, 1000); err != nil {
		t.Fatalf("SubmitQuantity error: %v", err)
	}

	// В состоянии ввода адреса валидное количество всё равно трактуется
	// как количество и возвращает оформление на этот шаг.
	sess, err := m.Input(ctx, 1, "2000")
	if err != nil {
		t.Fatalf("Input error: %v", err)
	}
	if sess.Quantity != 2000 {
		t.Fatalf("quantity = %d, want 2000", sess.Quantity)
	}

	sess, err = m.Input(ctx, 1, "https://example.com/p/2")
	if err != nil {
		t.Fatalf("Input error: %v", err)
	}
	if sess.State != StateConfirming || sess.Link != "https://example.com/p/2" {
		t.Fatalf("session = %+v, want confirming with link", sess)
	}
}

func TestConfirm_InsufficientFundsKeepsSession(t *testing.T) {
	ledger := &stubLedger{balance: 100}
	prov := &stubProvider{configured: true, orderID: "777"}
	m := newTestMachine(ledger, prov)
	ctx := context.Background()

	mustReachConfirm(t, m, 1)

	_, err := m.Confirm(ctx, 1, false)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Недостаток средств — локально восстановимая ошибка: сессия сохраняется.
	if _, ok := m.Session(1); !ok {
		t.Fatalf("session must survive insufficient funds")
	}
	if prov.calls != 0 {
		t.Fatalf("provider must not be called without funds")
	}
	if len(ledger.orders) != 0 {
		t.Fatalf("no order must be created")
	}
}

func TestConfirm_ProviderErrorNoDebit(t *testing.T) {
	ledger := &stubLedger{balance: 500}
	prov := &stubProvider{configured: true, err: errors.New("provider down")}
	m := newTestMachine(ledger, prov)
	ctx := context.Background()

	mustReachConfirm(t, m, 1)

	if _, err := m.Confirm(ctx, 1, false); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}

	if ledger.balance != 500 || len(ledger.orders) != 0 || len(ledger.debits) != 0 {
		t.Fatalf("provider failure must leave ledger untouched: %+v", ledger)
	}
	if _, ok := m.Session(1); ok {
		t.Fatalf("failed attempt must clear session")
	}
}

func TestConfirm_StorageErrorNoOrder(t *testing.T) {
	ledger := &stubLedger{balance: 500, createErr: errors.New("storage down")}
	prov := &stubProvider{configured: true, orderID: "777"}
	m := newTestMachine(ledger, prov)

	mustReachConfirm(t, m, 1)

	if _, err := m.Confirm(context.Background(), 1, false); err == nil {
		t.Fatalf("expected storage error")
	}
	if len(ledger.orders) != 0 || len(ledger.debits) != 0 {
		t.Fatalf("storage failure must not leave partial records")
	}
}

func TestConfirm_DryRunWithoutProvider(t *testing.T) {
	ledger := &stubLedger{balance: 500}
	m := newTestMachine(ledger, &stubProvider{configured: false})

	mustReachConfirm(t, m, 1)

	order, err := m.Confirm(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	// Синтетический идентификатор явно отличим от настоящих.
	if !strings.HasPrefix(order.ProviderOrderID, "dry-") {
		t.Fatalf("order id = %s, want dry- prefix", order.ProviderOrderID)
	}
}

func TestConfirm_ExemptSkipsFundsCheck(t *testing.T) {
	ledger := &stubLedger{balance: 0}
	prov := &stubProvider{configured: true, orderID: "888"}
	m := newTestMachine(ledger, prov)

	mustReachConfirm(t, m, 1)

	order, err := m.Confirm(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("Confirm exempt error: %v", err)
	}
	if order.Price != 200 {
		t.Fatalf("price = %d, want 200", order.Price)
	}
}

// Границы количества на подтверждении берутся из текущего каталога,
// а не из снимка в сессии.
func TestConfirm_BoundsRecheckedFromCatalog(t *testing.T) {
	cat := &stubCatalog{items: map[int64]model.CatalogItem{
		1: {ServiceID: 1, Name: "likes", Rate: 50, Price: 100, Min: 100, Max: 10000},
	}}
	ledger := &stubLedger{balance: 500}
	prov := &stubProvider{configured: true, orderID: "777"}
	m := NewMachine(cat, ledger, prov, time.Second)

	mustReachConfirm(t, m, 1)

	it := cat.items[1]
	it.Min = 5000
	cat.items[1] = it

	_, err := m.Confirm(context.Background(), 1, false)
	if !errors.Is(err, ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if prov.calls != 0 || len(ledger.orders) != 0 {
		t.Fatalf("stale quantity must not reach the provider or the ledger")
	}
	// Ошибка валидации восстановима: сессия сохраняется.
	if _, ok := m.Session(1); !ok {
		t.Fatalf("session must survive bounds violation")
	}
}

// Методы возвращают копию сессии: её изменение не влияет на хранимое состояние.
func TestSession_CopyOnRead(t *testing.T) {
	m := newTestMachine(&stubLedger{}, &stubProvider{})
	ctx := context.Background()

	if _, err := m.SelectService(ctx, 1, 1); err != nil {
		t.Fatalf("SelectService error: %v", err)
	}

	sess, ok := m.Session(1)
	if !ok {
		t.Fatalf("session expected")
	}
	sess.Quantity = 9999
	sess.State = StateConfirming

	fresh, ok := m.Session(1)
	if !ok {
		t.Fatalf("session expected")
	}
	if fresh.Quantity != 0 || fresh.State != StateSelectingQuantity {
		t.Fatalf("stored session mutated through returned pointer: %+v", fresh)
	}
}

func TestCancel_ClearsSession(t *testing.T) {
	m := newTestMachine(&stubLedger{}, &stubProvider{})

	mustReachConfirm(t, m, 1)

	m.Cancel(1)
	if _, ok := m.Session(1); ok {
		t.Fatalf("cancel must clear session")
	}

	// Новое оформление начинается с чистого состояния.
	sess, err := m.SelectService(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("SelectService error: %v", err)
	}
	if sess.Quantity != 0 || sess.Link != "" || sess.Cost != 0 {
		t.Fatalf("stale order state leaked into new session: %+v", sess)
	}
}

func mustReachConfirm(t *testing.T, m *Machine, userID int64) {
	t.Helper()
	ctx := context.Background()

	if _, err := m.SelectService(ctx, userID, 1); err != nil {
		t.Fatalf("SelectService error: %v", err)
	}
	if _, err := m.SubmitQuantity(ctx, userID, 2000); err != nil {
		t.Fatalf("SubmitQuantity error: %v", err)
	}
	if _, err := m.SubmitLink(ctx, userID, "https://example.com/p/1"); err != nil {
		t.Fatalf("SubmitLink error: %v", err)
	}
}
