// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrBadRange возвращается при некорректном синтаксисе ценового диапазона.
var ErrBadRange = errors.New("bad price range")

// ParseQuantity распознаёт во вводе пользователя целое положительное количество.
// Используется правилом терпимого повторного входа: любой ввод, являющийся
// валидным количеством, трактуется как количество независимо от ожидаемого поля.
func ParseQuantity(text string) (int, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}

	q, err := strconv.Atoi(text)
	if err != nil || q <= 0 {
		return 0, false
	}

	return q, true
}

// ParsePriceRange разбирает диапазон цен вида "10-50" или "0.5-2" в сотых долях
// базовой валюты. Границы неотрицательны, минимум не превышает максимум.
func ParsePriceRange(text string) (int64, int64, error) {
	parts := strings.SplitN(strings.TrimSpace(text), "-", 2)
	if len(parts) != 2 {
		return 0, 0, ErrBadRange
	}

	minP, err := parsePrice(parts[0])
	if err != nil {
		return 0, 0, ErrBadRange
	}

	maxP, err := parsePrice(parts[1])
	if err != nil {
		return 0, 0, ErrBadRange
	}

	if minP < 0 || maxP < minP {
		return 0, 0, ErrBadRange
	}

	return minP, maxP, nil
}

// ParsePercent разбирает процентную дельту вида "15", "+15" или "-7.5".
func ParsePercent(text string) (float64, error) {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "+"))
	if text == "" {
		return 0, ErrBadRange
	}

	pct, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(pct) || math.IsInf(pct, 0) || pct <= -100 {
		return 0, ErrBadRange
	}

	return pct, nil
}

func parsePrice(text string) (int64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrBadRange
	}
	return int64(math.Round(v * 100)), nil
}
