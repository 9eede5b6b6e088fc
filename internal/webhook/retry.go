package webhook

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy: после первой попытки до MaxRetries повторов с задержками
// InitialInterval, InitialInterval*Multiplier, ... без джиттера.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
	Timeout         time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 1 * time.Second,
		Multiplier:      2,
		Timeout:         10 * time.Second,
	}
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = p.InitialInterval * time.Duration(1<<uint(p.MaxRetries))
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
}

// Delays: расписание пауз между попытками.
func (p RetryPolicy) Delays() []time.Duration {
	b := p.newBackOff()
	var delays []time.Duration
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return delays
		}
		delays = append(delays, d)
	}
}
