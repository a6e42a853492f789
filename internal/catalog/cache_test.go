package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/smm-engine/internal/model"
)

type stubSource struct {
	items []model.CatalogItem
	err   error
	calls int
}

func (s *stubSource) Services(ctx context.Context) ([]model.CatalogItem, error) {
	s.calls++
	return s.items, s.err
}

type stubOverrides struct {
	overrides map[int64]model.PriceOverride
}

func (s *stubOverrides) GetOverrides(ctx context.Context) (map[int64]model.PriceOverride, error) {
	if s.overrides == nil {
		return map[int64]model.PriceOverride{}, nil
	}
	return s.overrides, nil
}

func TestCache_ResolvesPrices(t *testing.T) {
	source := &stubSource{items: []model.CatalogItem{
		{ServiceID: 1, Name: "likes", Rate: 50, Min: 100, Max: 10000},
		{ServiceID: 2, Name: "views", Rate: 200, Min: 1000, Max: 100000},
	}}
	overrides := &stubOverrides{overrides: map[int64]model.PriceOverride{
		2: {ServiceID: 2, OriginalRate: 200, Price: 250},
	}}

	cache := New(source, overrides, time.Minute)

	items, err := cache.Items(context.Background())
	if err != nil {
		t.Fatalf("Items error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}

	if items[0].Price != 100 || items[0].Overridden {
		t.Fatalf("item 1 = (%d, %v), want (100, false)", items[0].Price, items[0].Overridden)
	}
	if items[1].Price != 250 || !items[1].Overridden {
		t.Fatalf("item 2 = (%d, %v), want (250, true)", items[1].Price, items[1].Overridden)
	}
}

func TestCache_TTL(t *testing.T) {
	source := &stubSource{items: []model.CatalogItem{{ServiceID: 1, Rate: 100}}}
	now := time.Now()

	cache := New(source, &stubOverrides{}, time.Minute).WithClock(func() time.Time { return now })

	ctx := context.Background()
	if _, err := cache.Items(ctx); err != nil {
		t.Fatalf("Items error: %v", err)
	}
	if _, err := cache.Items(ctx); err != nil {
		t.Fatalf("Items error: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("source calls = %d, want 1 within TTL", source.calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := cache.Items(ctx); err != nil {
		t.Fatalf("Items error: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("source calls = %d, want 2 after TTL", source.calls)
	}
}

func TestCache_InvalidateVisibleOnNextRead(t *testing.T) {
	source := &stubSource{items: []model.CatalogItem{{ServiceID: 1, Rate: 100}}}
	cache := New(source, &stubOverrides{}, time.Hour)

	ctx := context.Background()
	if _, err := cache.Items(ctx); err != nil {
		t.Fatalf("Items error: %v", err)
	}

	cache.Invalidate()

	if _, err := cache.Items(ctx); err != nil {
		t.Fatalf("Items error: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("source calls = %d, want refresh right after invalidation", source.calls)
	}
}

func TestCache_ItemLookup(t *testing.T) {
	source := &stubSource{items: []model.CatalogItem{{ServiceID: 7, Name: "subs", Rate: 100}}}
	cache := New(source, &stubOverrides{}, time.Minute)

	it, err := cache.Item(context.Background(), 7)
	if err != nil {
		t.Fatalf("Item error: %v", err)
	}
	if it.Name != "subs" || it.Price != 150 {
		t.Fatalf("item = %+v, want subs with price 150", it)
	}

	if _, err := cache.Item(context.Background(), 8); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestCache_SourceError(t *testing.T) {
	source := &stubSource{err: errors.New("provider down")}
	cache := New(source, &stubOverrides{}, time.Minute)

	if _, err := cache.Items(context.Background()); err == nil {
		t.Fatalf("expected error from source")
	}
}
