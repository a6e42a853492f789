// Package catalog реализует кэш каталога услуг провайдера с TTL
// и явной инвалидацией при изменении цен оператором.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mmeshcher/smm-engine/internal/model"
	"github.com/mmeshcher/smm-engine/internal/pricing"
)

// ErrItemNotFound возвращается при запросе услуги, отсутствующей в каталоге.
var ErrItemNotFound = errors.New("catalog item not found")

// ServiceSource описывает источник списка услуг.
type ServiceSource interface {
	Services(ctx context.Context) ([]model.CatalogItem, error)
}

// OverrideSource описывает источник оверрайдов цен.
type OverrideSource interface {
	GetOverrides(ctx context.Context) (map[int64]model.PriceOverride, error)
}

// Cache хранит каталог услуг с разрешёнными ценами. Кэш принадлежит одному
// экземпляру, передаваемому потребителям; часы инжектируются для тестов.
type Cache struct {
	source    ServiceSource
	overrides OverrideSource
	ttl       time.Duration
	now       func() time.Time

	mu        sync.Mutex
	items     []model.CatalogItem
	byID      map[int64]model.CatalogItem
	refreshed time.Time
	valid     bool
}

// New создаёт кэш каталога с указанным временем жизни.
func New(source ServiceSource, overrides OverrideSource, ttl time.Duration) *Cache {
	return &Cache{
		source:    source,
		overrides: overrides,
		ttl:       ttl,
		now:       time.Now,
	}
}

// WithClock заменяет источник времени. Используется в тестах.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Items возвращает каталог, обновляя его из провайдера при устаревании.
func (c *Cache) Items(ctx context.Context) ([]model.CatalogItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}

	res := make([]model.CatalogItem, len(c.items))
	copy(res, c.items)
	return res, nil
}

// Item возвращает услугу каталога по идентификатору.
func (c *Cache) Item(ctx context.Context, serviceID int64) (*model.CatalogItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}

	it, ok := c.byID[serviceID]
	if !ok {
		return nil, ErrItemNotFound
	}
	return &it, nil
}

// Invalidate сбрасывает кэш. Вызывается при каждой мутации цен оператором,
// чтобы следующее чтение сразу увидело новые цены.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}

func (c *Cache) refreshLocked(ctx context.Context) error {
	if c.valid && c.now().Sub(c.refreshed) < c.ttl {
		return nil
	}

	items, err := c.source.Services(ctx)
	if err != nil {
		return fmt.Errorf("load services: %w", err)
	}

	overrides, err := c.overrides.GetOverrides(ctx)
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}

	byID := make(map[int64]model.CatalogItem, len(items))
	for i := range items {
		var ov *model.PriceOverride
		if o, ok := overrides[items[i].ServiceID]; ok {
			o := o
			ov = &o
		}
		items[i].Price, items[i].Overridden = pricing.Resolve(items[i].Rate, ov)
		byID[items[i].ServiceID] = items[i]
	}

	c.items = items
	c.byID = byID
	c.refreshed = c.now()
	c.valid = true
	return nil
}
