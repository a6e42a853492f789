package workflow

import "sync"

// State описывает шаг оформления заказа.
type State string

// Выбор услуги создаёт сессию сразу в StateSelectingQuantity: до него
// сессии нет, фронтенд показывает каталог.
const (
	StateSelectingQuantity State = "selecting_quantity"
	StateEnteringLink      State = "entering_link"
	StateConfirming        State = "confirming"
)

// Session — типизированное состояние одного оформляемого заказа.
// Живёт от выбора услуги до терминального перехода, после которого удаляется,
// чтобы устаревшие количество и стоимость не протекли в следующий заказ.
type Session struct {
	UserID      int64  `json:"user_id"`
	State       State  `json:"state"`
	ServiceID   int64  `json:"service_id"`
	ServiceName string `json:"service_name"`
	UnitPrice   int64  `json:"unit_price"`
	Min         int    `json:"min"`
	Max         int    `json:"max"`
	Quantity    int    `json:"quantity"`
	Link        string `json:"link"`
	Cost        int64  `json:"cost"`
}

// sessionStore хранит сессии оформления по внутреннему идентификатору пользователя.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[int64]*Session)}
}

// get возвращает копию сессии: интенты меняют её вне блокировки хранилища
// и публикуют результат через put, поэтому чужой указатель наружу не отдаётся.
func (s *sessionStore) get(userID int64) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, false
	}
	cp := *sess
	return &cp, true
}

func (s *sessionStore) put(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = sess
}

func (s *sessionStore) delete(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}
