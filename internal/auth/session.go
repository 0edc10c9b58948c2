package auth

import (
	"errors"
	"sync"
)

// ErrSessionExpired сессия завершена: бэкенд отклонил токен (401/403)
var ErrSessionExpired = errors.New("session expired")

// Session явный объект сессии: bearer-токен и сигнал "сессия истекла".
// Передается в клиент API при создании; глобального хранилища токенов нет.
// Решение о повторном входе принимает вызывающая сторона, получив сигнал Done().
type Session struct {
	token string

	mu     sync.RWMutex
	reason error
	done   chan struct{}
	once   sync.Once
}

// NewSession создает сессию с bearer-токеном
func NewSession(token string) *Session {
	return &Session{
		token: token,
		done:  make(chan struct{}),
	}
}

// Token возвращает bearer-токен
func (s *Session) Token() string {
	return s.token
}

// Expire помечает сессию истекшей. Повторные вызовы игнорируются,
// сохраняется первая причина.
func (s *Session) Expire(reason error) {
	s.once.Do(func() {
		if reason == nil {
			reason = ErrSessionExpired
		}
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}

// Done закрывается при истечении сессии
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Expired сообщает, истекла ли сессия
func (s *Session) Expired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err возвращает причину истечения или nil
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// TokenPrefix короткий префикс токена для логов
func (s *Session) TokenPrefix() string {
	return s.token[:min(10, len(s.token))]
}

// min возвращает минимальное из двух чисел
func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
