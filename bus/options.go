package bus

import (
	"log/slog"
	"time"
)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger routes handler failures and registry noise to log.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bus) {
		if log != nil {
			b.log = log
		}
	}
}

// WithNow injects the timestamp source used by the Emit helpers. Intended
// for tests.
func WithNow(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

type registerConfig struct {
	strict     bool
	persistent bool
}

// RegisterOption configures a single Register call.
type RegisterOption func(*registerConfig)

// Strict makes Register fail with ErrDuplicateName when the source name is
// already bound, instead of rebinding it.
func Strict() RegisterOption {
	return func(c *registerConfig) { c.strict = true }
}

// Persistent marks the source as living beyond its registration: Unregister
// detaches it but does not call Close, so it can be re-registered later.
func Persistent() RegisterOption {
	return func(c *registerConfig) { c.persistent = true }
}
