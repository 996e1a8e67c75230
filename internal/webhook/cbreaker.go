package webhook

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// endpointBreaker trips after consecutive delivery failures to one endpoint
// and lets a single probe through after the open interval.
type endpointBreaker struct {
	mu               sync.Mutex
	st               breakerState
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
}

func newEndpointBreaker(threshold int, openFor time.Duration) *endpointBreaker {
	if threshold < 1 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &endpointBreaker{failThreshold: threshold, openFor: openFor}
}

func (b *endpointBreaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.st {
	case breakerClosed:
		return true
	case breakerOpen:
		if now.After(b.nextTryAt) && !b.probeInFlight {
			b.st = breakerHalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case breakerHalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *endpointBreaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = breakerClosed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *endpointBreaker) OnFailure() {
	b.mu.Lock()
	if b.st == breakerHalfOpen {
		b.st = breakerOpen
		b.nextTryAt = time.Now().Add(b.openFor)
		b.probeInFlight = false
		b.mu.Unlock()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.st = breakerOpen
		b.nextTryAt = time.Now().Add(b.openFor)
	}

	b.mu.Unlock()
}

// breakerSet hands out one breaker per webhook endpoint id.
type breakerSet struct {
	mu        sync.Mutex
	breakers  map[string]*endpointBreaker
	threshold int
	openFor   time.Duration
}

func newBreakerSet(threshold int, openFor time.Duration) *breakerSet {
	return &breakerSet{
		breakers:  make(map[string]*endpointBreaker),
		threshold: threshold,
		openFor:   openFor,
	}
}

func (s *breakerSet) get(endpointID string) *endpointBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[endpointID]
	if !ok {
		b = newEndpointBreaker(s.threshold, s.openFor)
		s.breakers[endpointID] = b
	}
	return b
}
