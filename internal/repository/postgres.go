// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/smm-engine/internal/model"
	"github.com/mmeshcher/smm-engine/internal/referral"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound возвращается, если пользователь не найден.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAlreadyReferred возвращается, если у пользователя уже задан пригласивший.
	ErrAlreadyReferred = errors.New("user already has referrer")
	// ErrBonusProcessed возвращается при повторной обработке бонуса.
	ErrBonusProcessed = errors.New("bonus already processed")
	// ErrOverrideNotFound возвращается при удалении отсутствующего оверрайда.
	ErrOverrideNotFound = errors.New("price override not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// IsRetryable сообщает, имеет ли смысл повторить операцию после этой ошибки.
// Повторяются конфликты сериализации, дедлоки и сетевые сбои.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetOrCreateUser возвращает пользователя по внешнему идентификатору,
// при первом обращении создавая запись с нулевым балансом.
func (r *PostgresRepository) GetOrCreateUser(ctx context.Context, externalID int64, username, language string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (external_id, username, language)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (external_id) DO UPDATE
		 SET username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE users.username END
		 RETURNING id, external_id, username, currency, language, referrer_id, balance, created_at`,
		externalID, username, language,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Username, &u.Currency, &u.Language, &u.ReferrerID, &u.Balance, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create user: %w", err)
	}

	return &u, nil
}

// GetUserByExternalID возвращает пользователя по внешнему идентификатору.
func (r *PostgresRepository) GetUserByExternalID(ctx context.Context, externalID int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, external_id, username, currency, language, referrer_id, balance, created_at
		 FROM users WHERE external_id = $1`,
		externalID,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Username, &u.Currency, &u.Language, &u.ReferrerID, &u.Balance, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetBalance возвращает текущий баланс пользователя в сотых долях.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// Credit атомарно увеличивает баланс и добавляет запись в журнал операций.
func (r *PostgresRepository) Credit(ctx context.Context, userID, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := creditTx(ctx, tx, userID, amount, reason); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// Debit атомарно уменьшает баланс и добавляет запись в журнал операций.
// Без exempt списание, превышающее баланс, завершается ErrInsufficientBalance
// без каких-либо изменений. С exempt проверка пропускается и баланс оператора
// может уйти в минус; запись в журнале фиксирует полную сумму.
func (r *PostgresRepository) Debit(ctx context.Context, userID, amount int64, reason string, exempt bool) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := debitTx(ctx, tx, userID, amount, reason, exempt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func creditTx(ctx context.Context, tx pgx.Tx, userID, amount int64, reason string) error {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock user for update: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE users SET balance = balance + $2 WHERE id = $1`, userID, amount)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO balance_transactions (user_id, amount, kind, reason) VALUES ($1, $2, $3, $4)`,
		userID, amount, string(model.TransactionCredit), reason,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

func debitTx(ctx context.Context, tx pgx.Tx, userID, amount int64, reason string, exempt bool) error {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock user for update: %w", err)
	}

	if !exempt && balance < amount {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx, `UPDATE users SET balance = balance - $2 WHERE id = $1`, userID, amount)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO balance_transactions (user_id, amount, kind, reason) VALUES ($1, $2, $3, $4)`,
		userID, -amount, string(model.TransactionDebit), reason,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

// GetTransactionsByUser возвращает журнал операций пользователя.
func (r *PostgresRepository) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.BalanceTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, kind, reason, created_at
		 FROM balance_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.BalanceTransaction
	for rows.Next() {
		var t model.BalanceTransaction
		var kind string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &kind, &t.Reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Kind = model.TransactionKind(kind)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateOrderWithDebit сохраняет заказ и списывает его стоимость одной транзакцией:
// после успешного завершения существуют ровно одна запись заказа и ровно одна
// запись списания, при любой ошибке — ни одной.
func (r *PostgresRepository) CreateOrderWithDebit(ctx context.Context, order *model.Order, exempt bool) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := debitTx(ctx, tx, order.UserID, order.Price, fmt.Sprintf("order %s", order.ProviderOrderID), exempt); err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO orders (user_id, provider_order_id, service_id, service_name, quantity, link, price, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		order.UserID, order.ProviderOrderID, order.ServiceID, order.ServiceName,
		order.Quantity, order.Link, order.Price, string(order.Status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

// GetOrdersByUser возвращает список заказов пользователя.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, provider_order_id, service_id, service_name, quantity, link, price, status, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

// GetOrdersInProgress возвращает заказы в нетерминальных статусах для фонового опроса.
func (r *PostgresRepository) GetOrdersInProgress(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, provider_order_id, service_id, service_name, quantity, link, price, status, created_at
		 FROM orders
		 WHERE status NOT IN ($1, $2, $3)
		 ORDER BY created_at
		 LIMIT $4`,
		string(model.OrderStatusCompleted),
		string(model.OrderStatusPartial),
		string(model.OrderStatusCanceled),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders in progress: %w", err)
	}
	defer rows.Close()

	return scanOrders(rows)
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	var res []model.Order
	for rows.Next() {
		var o model.Order
		var status string
		if err := rows.Scan(&o.ID, &o.UserID, &o.ProviderOrderID, &o.ServiceID, &o.ServiceName,
			&o.Quantity, &o.Link, &o.Price, &status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateOrderStatus обновляет статус заказа по идентификатору провайдера.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, providerOrderID string, status model.OrderStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE provider_order_id = $1`,
		providerOrderID, string(status),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// GetOverride возвращает оверрайд цены для услуги или nil, если его нет.
func (r *PostgresRepository) GetOverride(ctx context.Context, serviceID int64) (*model.PriceOverride, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT service_id, original_rate, price, set_by, created_at
		 FROM service_price_overrides WHERE service_id = $1`,
		serviceID,
	)

	var o model.PriceOverride
	err := row.Scan(&o.ServiceID, &o.OriginalRate, &o.Price, &o.SetBy, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get override: %w", err)
	}

	return &o, nil
}

// GetOverrides возвращает все оверрайды цен, ключ — идентификатор услуги.
func (r *PostgresRepository) GetOverrides(ctx context.Context) (map[int64]model.PriceOverride, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT service_id, original_rate, price, set_by, created_at FROM service_price_overrides`,
	)
	if err != nil {
		return nil, fmt.Errorf("select overrides: %w", err)
	}
	defer rows.Close()

	res := make(map[int64]model.PriceOverride)
	for rows.Next() {
		var o model.PriceOverride
		if err := rows.Scan(&o.ServiceID, &o.OriginalRate, &o.Price, &o.SetBy, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		res[o.ServiceID] = o
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SetOverride записывает или заменяет оверрайд цены для услуги.
func (r *PostgresRepository) SetOverride(ctx context.Context, o model.PriceOverride) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO service_price_overrides (service_id, original_rate, price, set_by)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (service_id) DO UPDATE SET price = EXCLUDED.price, set_by = EXCLUDED.set_by, created_at = now()`,
		o.ServiceID, o.OriginalRate, o.Price, o.SetBy,
	)
	if err != nil {
		return fmt.Errorf("set override: %w", err)
	}
	return nil
}

// DeleteOverride удаляет оверрайд цены услуги.
func (r *PostgresRepository) DeleteOverride(ctx context.Context, serviceID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM service_price_overrides WHERE service_id = $1`, serviceID,
	)
	if err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOverrideNotFound
	}
	return nil
}

// ApplyBulkAdjustment одной транзакцией сохраняет пакет оверрайдов
// и запись аудита массовой корректировки.
func (r *PostgresRepository) ApplyBulkAdjustment(ctx context.Context, overrides []model.PriceOverride, audit model.PriceAdjustment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, o := range overrides {
		_, err = tx.Exec(ctx,
			`INSERT INTO service_price_overrides (service_id, original_rate, price, set_by)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (service_id) DO UPDATE SET price = EXCLUDED.price, set_by = EXCLUDED.set_by, created_at = now()`,
			o.ServiceID, o.OriginalRate, o.Price, o.SetBy,
		)
		if err != nil {
			return fmt.Errorf("set override %d: %w", o.ServiceID, err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO price_adjustments (min_price, max_price, percent, affected, performed_by)
		 VALUES ($1, $2, $3, $4, $5)`,
		audit.MinPrice, audit.MaxPrice, audit.Percent, audit.Affected, audit.PerformedBy,
	)
	if err != nil {
		return fmt.Errorf("insert adjustment audit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// CreateReferral атомарно назначает пользователю пригласившего и добавляет
// запись о приглашении. Пригласивший задаётся не более одного раза:
// повторная попытка завершается ErrAlreadyReferred без изменений.
func (r *PostgresRepository) CreateReferral(ctx context.Context, referrerID, referredID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE users SET referrer_id = $2 WHERE id = $1 AND referrer_id IS NULL`,
		referredID, referrerID,
	)
	if err != nil {
		return fmt.Errorf("set referrer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyReferred
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO referrals (referrer_id, referred_id) VALUES ($1, $2)`,
		referrerID, referredID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrAlreadyReferred
		}
		return fmt.Errorf("insert referral: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// CreateBonus проверяет пересечение порога приглашений и при необходимости
// создаёт одну ожидающую запись бонуса. Подсчёт и вставка выполняются под
// блокировкой строки пользователя, поэтому повторные вызовы без новых
// приглашений не создают дубликатов.
func (r *PostgresRepository) CreateBonus(ctx context.Context, userID int64, threshold int, amount int64) (*model.ReferralBonus, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var dummy int
	err = tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lock user for update: %w", err)
	}

	// Квалифицирующим считается приглашённый с непустым публичным именем.
	var qualifying int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM referrals r
		 JOIN users u ON u.id = r.referred_id
		 WHERE r.referrer_id = $1 AND u.username <> ''`,
		userID,
	).Scan(&qualifying)
	if err != nil {
		return nil, fmt.Errorf("count qualifying referrals: %w", err)
	}

	var covered int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(referral_count), 0) FROM referral_bonuses WHERE user_id = $1`,
		userID,
	).Scan(&covered)
	if err != nil {
		return nil, fmt.Errorf("sum covered referrals: %w", err)
	}

	count, due := referral.Coverage(qualifying, covered, threshold)
	if !due {
		return nil, nil
	}

	var b model.ReferralBonus
	var status string
	err = tx.QueryRow(ctx,
		`INSERT INTO referral_bonuses (user_id, referral_count, amount)
		 VALUES ($1, $2, $3)
		 RETURNING id, user_id, referral_count, amount, status, created_at`,
		userID, count, amount,
	).Scan(&b.ID, &b.UserID, &b.ReferralCount, &b.Amount, &status, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert bonus: %w", err)
	}
	b.Status = model.BonusStatus(status)

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &b, nil
}

// GetBonuses возвращает бонусы в указанном статусе, пустой статус — все.
func (r *PostgresRepository) GetBonuses(ctx context.Context, status model.BonusStatus) ([]model.ReferralBonus, error) {
	query := `SELECT id, user_id, referral_count, amount, status, created_at, processed_at, processed_by
	          FROM referral_bonuses`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select bonuses: %w", err)
	}
	defer rows.Close()

	var res []model.ReferralBonus
	for rows.Next() {
		var b model.ReferralBonus
		var st string
		if err := rows.Scan(&b.ID, &b.UserID, &b.ReferralCount, &b.Amount, &st, &b.CreatedAt, &b.ProcessedAt, &b.ProcessedBy); err != nil {
			return nil, fmt.Errorf("scan bonus: %w", err)
		}
		b.Status = model.BonusStatus(st)
		res = append(res, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ApproveBonus переводит бонус из pending в approved и зачисляет его сумму
// на баланс одной транзакцией. Повторная обработка завершается ErrBonusProcessed.
func (r *PostgresRepository) ApproveBonus(ctx context.Context, bonusID, adminID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID, amount int64
	err = tx.QueryRow(ctx,
		`UPDATE referral_bonuses
		 SET status = $2, processed_at = now(), processed_by = $3
		 WHERE id = $1 AND status = $4
		 RETURNING user_id, amount`,
		bonusID, string(model.BonusStatusApproved), adminID, string(model.BonusStatusPending),
	).Scan(&userID, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBonusProcessed
		}
		return fmt.Errorf("approve bonus: %w", err)
	}

	if err := creditTx(ctx, tx, userID, amount, fmt.Sprintf("referral bonus %d", bonusID)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// DeclineBonus переводит бонус из pending в declined без влияния на баланс.
func (r *PostgresRepository) DeclineBonus(ctx context.Context, bonusID, adminID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE referral_bonuses
		 SET status = $2, processed_at = now(), processed_by = $3
		 WHERE id = $1 AND status = $4`,
		bonusID, string(model.BonusStatusDeclined), adminID, string(model.BonusStatusPending),
	)
	if err != nil {
		return fmt.Errorf("decline bonus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBonusProcessed
	}
	return nil
}

// GetSetting возвращает значение настройки по ключу.
// Чтение идёт напрямую из БД: сразу видна последняя запись.
func (r *PostgresRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting записывает значение настройки.
func (r *PostgresRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
