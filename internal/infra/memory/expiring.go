package memory

import "time"

// expiring wraps a value with an optional deadline; a zero deadline never expires.
type expiring[T any] struct {
	value     T
	expiresAt time.Time
}

func newExpiring[T any](value T, now time.Time, ttl time.Duration) expiring[T] {
	e := expiring[T]{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	return e
}

func (e expiring[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}
