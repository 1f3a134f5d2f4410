package backoff

import (
	"math"
	"time"
)

// Policy computes retry delays using exponential growth with a cap.
//
// The owning component keeps its own attempt counter: it passes the counter
// to Delay before each retry and resets it to zero the moment the component
// becomes healthy again. No jitter is applied.
type Policy struct {
	Base   time.Duration // delay for attempt 0
	Factor float64       // growth multiplier per attempt
	Cap    time.Duration // upper bound on the delay
}

// Delay returns min(Base * Factor^attempt, Cap).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	factor := p.Factor
	if factor < 1 {
		factor = 2.0
	}
	cap := p.Cap
	if cap <= 0 {
		cap = 30 * time.Second
	}

	delay := float64(base) * math.Pow(factor, float64(attempt))
	if delay > float64(cap) {
		return cap
	}
	return time.Duration(delay)
}

// Stream and supervisor reconnect constants.
func StreamPolicy() Policy {
	return Policy{
		Base:   time.Second,
		Factor: 2.0,
		Cap:    30 * time.Second,
	}
}

// Bridge reconnect constants: slower start, gentler growth.
func BridgePolicy() Policy {
	return Policy{
		Base:   2 * time.Second,
		Factor: 1.5,
		Cap:    30 * time.Second,
	}
}
