// Package pricing реализует резолвер цен каталога: наценки, оверрайды
// и расчёт стоимости заказа. Все суммы — в сотых долях базовой валюты,
// тарифы — за 1000 единиц услуги.
package pricing

import "github.com/mmeshcher/smm-engine/internal/model"

// markupThreshold — граница дешёвых тарифов: ниже 1.00 за 1000 единиц
// применяется наценка 100%, начиная с неё — 50%.
const markupThreshold = 100

// Resolve возвращает тариф к списанию для услуги с исходным тарифом rate.
// Оверрайд полностью отменяет наценку: его цена возвращается как есть,
// второй результат сообщает потребителю, что повторная наценка недопустима.
func Resolve(rate int64, override *model.PriceOverride) (int64, bool) {
	if override != nil {
		return override.Price, true
	}
	return Markup(rate), false
}

// Markup применяет двухуровневую наценку к исходному тарифу провайдера.
// Половина цента при наценке 50% округляется вверх.
func Markup(rate int64) int64 {
	if rate < markupThreshold {
		return rate * 2
	}
	return (rate*3 + 1) / 2
}

// Cost вычисляет стоимость заказа quantity единиц по тарифу unit за 1000,
// с округлением до ближайшей сотой доли.
func Cost(unit int64, quantity int) int64 {
	return (unit*int64(quantity) + 500) / 1000
}

// Display переводит сумму в отображаемую валюту по заданному курсу.
// Результат используется только для показа и никогда не сохраняется.
func Display(amount int64, rate float64) float64 {
	return float64(amount) / 100 * rate
}

// BulkTarget описывает оверрайд, который массовая корректировка
// должна записать для одной услуги.
type BulkTarget struct {
	ServiceID    int64
	OriginalRate int64
	Price        int64
}

// BulkTargets выбирает услуги, чья текущая отображаемая цена попадает в
// [minPrice, maxPrice], и вычисляет для каждой новый оверрайд как
// current * (1 + pct/100). База пересчёта — отображаемая цена, а не исходный
// тариф: повторные корректировки накапливаются от того, что видит пользователь.
func BulkTargets(items []model.CatalogItem, minPrice, maxPrice int64, pct float64) []BulkTarget {
	var targets []BulkTarget
	for _, it := range items {
		if it.Price < minPrice || it.Price > maxPrice {
			continue
		}

		newPrice := int64(float64(it.Price) * (1 + pct/100))
		if newPrice < 0 {
			newPrice = 0
		}

		targets = append(targets, BulkTarget{
			ServiceID:    it.ServiceID,
			OriginalRate: it.Rate,
			Price:        newPrice,
		})
	}
	return targets
}
