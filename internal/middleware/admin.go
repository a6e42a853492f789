package middleware

import (
	"crypto/hmac"
	"net/http"
)

// AdminHeader — заголовок со статическим токеном оператора.
const AdminHeader = "X-Admin-Token"

// AdminMiddleware пропускает только запросы с корректным токеном оператора.
// Пустой настроенный токен закрывает административную поверхность целиком.
func AdminMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || !hmac.Equal([]byte(r.Header.Get(AdminHeader)), []byte(token)) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
