// Package referral содержит расчёт покрытия реферальных бонусов.
package referral

// Coverage возвращает число приглашений, которое должен покрыть новый бонус,
// и признак того, что бонус вообще положен. Бонус создаётся только при
// пересечении нового кратного порога: floor(q/t) > floor(covered/t).
// Сумма покрытий по всем бонусам пользователя никогда не превышает q.
func Coverage(qualifying, covered, threshold int) (int, bool) {
	if threshold <= 0 {
		return 0, false
	}

	if qualifying/threshold <= covered/threshold {
		return 0, false
	}

	return (qualifying / threshold * threshold) - covered, true
}
