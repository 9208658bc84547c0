package domain

import "time"

// Backoff-стратегии retry.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// RetryPolicy — политика повторных попыток для типа stage.
//
// Retry применяется только к transient-ошибкам. Permanent-ошибка
// сразу переводит stage в FAILED_PERMANENT без расхода попыток.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts"`

	// Backoff — стратегия задержки: "fixed" или "exponential".
	Backoff string `json:"backoff,omitempty"`

	// InitialDelay — начальная задержка перед retry.
	InitialDelay time.Duration `json:"initial_delay,omitempty"`

	// MaxDelay — потолок задержки.
	MaxDelay time.Duration `json:"max_delay,omitempty"`
}

// NextDelay вычисляет задержку перед попыткой attempt+1.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	delay := initial
	if p.Backoff == BackoffExponential {
		// delay = initial * 2^(attempt-1)
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				break
			}
		}
	}

	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
