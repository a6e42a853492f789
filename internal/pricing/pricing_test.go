package pricing

import (
	"testing"

	"github.com/mmeshcher/smm-engine/internal/model"
)

func TestMarkup(t *testing.T) {
	tests := []struct {
		name string
		rate int64
		want int64
	}{
		{
			name: "below threshold gets 100 percent",
			rate: 50,
			want: 100,
		},
		{
			name: "just below threshold",
			rate: 99,
			want: 198,
		},
		{
			name: "at threshold gets 50 percent",
			rate: 100,
			want: 150,
		},
		{
			name: "above threshold",
			rate: 200,
			want: 300,
		},
		{
			name: "half cent rounds up",
			rate: 101,
			want: 152,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Markup(tt.rate); got != tt.want {
				t.Fatalf("Markup(%d) = %d, want %d", tt.rate, got, tt.want)
			}
		})
	}
}

func TestResolve_OverridePrecedence(t *testing.T) {
	override := &model.PriceOverride{ServiceID: 1, OriginalRate: 50, Price: 80}

	price, overridden := Resolve(50, override)
	if price != 80 || !overridden {
		t.Fatalf("Resolve with override = (%d, %v), want (80, true)", price, overridden)
	}

	// Оверрайд действует независимо от изменения исходного тарифа.
	price, overridden = Resolve(300, override)
	if price != 80 || !overridden {
		t.Fatalf("Resolve with changed rate = (%d, %v), want (80, true)", price, overridden)
	}

	price, overridden = Resolve(50, nil)
	if price != 100 || overridden {
		t.Fatalf("Resolve without override = (%d, %v), want (100, false)", price, overridden)
	}
}

func TestCost(t *testing.T) {
	// Тариф 1.00 за 1000, количество 2000 — стоимость 2.00.
	if got := Cost(100, 2000); got != 200 {
		t.Fatalf("Cost(100, 2000) = %d, want 200", got)
	}

	if got := Cost(80, 1000); got != 80 {
		t.Fatalf("Cost(80, 1000) = %d, want 80", got)
	}

	// Округление до ближайшей сотой доли.
	if got := Cost(100, 15); got != 2 {
		t.Fatalf("Cost(100, 15) = %d, want 2", got)
	}
}

func TestDisplay(t *testing.T) {
	if got := Display(200, 90); got != 180 {
		t.Fatalf("Display(200, 90) = %v, want 180", got)
	}
}

func TestBulkTargets(t *testing.T) {
	items := []model.CatalogItem{
		{ServiceID: 1, Rate: 50, Price: 100},
		{ServiceID: 2, Rate: 200, Price: 300},
		{ServiceID: 3, Rate: 1000, Price: 1500},
	}

	targets := BulkTargets(items, 50, 500, 10)

	if len(targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(targets))
	}
	if targets[0].ServiceID != 1 || targets[0].Price != 110 {
		t.Fatalf("target[0] = %+v, want service 1 price 110", targets[0])
	}
	if targets[0].OriginalRate != 50 {
		t.Fatalf("target[0].OriginalRate = %d, want 50", targets[0].OriginalRate)
	}
	if targets[1].ServiceID != 2 || targets[1].Price != 330 {
		t.Fatalf("target[1] = %+v, want service 2 price 330", targets[1])
	}
}

func TestBulkTargets_NegativeDelta(t *testing.T) {
	items := []model.CatalogItem{
		{ServiceID: 1, Rate: 200, Price: 300},
	}

	targets := BulkTargets(items, 0, 1000, -50)
	if len(targets) != 1 || targets[0].Price != 150 {
		t.Fatalf("targets = %+v, want one target with price 150", targets)
	}
}
