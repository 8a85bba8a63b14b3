package events

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/wardfw/ward/internal/errors"
	"github.com/wardfw/ward/internal/logging"
)

// Default per-kind token-bucket rates from §4.6. Kinds not listed are
// unlimited: the spec names only rule-match and packet-drop as
// rate-limited, leaving session-new/session-expire/config-change/system
// unconstrained.
var defaultRateLimits = map[Kind]rate.Limit{
	KindRuleMatch:  1000,
	KindPacketDrop: 100,
}

// MaxSubscriptions bounds concurrent event-stream subscribers per §5.
const MaxSubscriptions = 256

// DefaultSubscriberBuffer is the bounded per-subscription buffer size.
const DefaultSubscriberBuffer = 1024

type subscription struct {
	id      uint64
	ch      chan Event
	dropped atomic.Uint64
	lagging atomic.Bool
}

// Pipeline is the Event Pipeline of §4.6: a lock-free ring drained by a
// single worker that rate-limits per kind and fans out to subscriber
// buffers.
type Pipeline struct {
	r        *ring
	nextID   atomic.Uint64
	logger   *logging.Logger
	limiters map[Kind]*rate.Limiter

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	subMu     sync.Mutex
	subs      map[uint64]*subscription
	nextSubID uint64
}

// Option configures a Pipeline at construction time.
type Option func(*pipelineConfig)

type pipelineConfig struct {
	ringCapacity int
}

// WithRingCapacity overrides the event ring's capacity (§6's
// event_ring_capacity option; rounded up to the next power of two).
// Capacity <= 0 leaves DefaultRingCapacity in place.
func WithRingCapacity(n int) Option {
	return func(c *pipelineConfig) { c.ringCapacity = n }
}

// NewPipeline constructs a Pipeline with the default per-kind rate
// limits and starts its drain worker.
func NewPipeline(logger *logging.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	cfg := pipelineConfig{ringCapacity: DefaultRingCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}
	p := &Pipeline{
		r:        newRing(cfg.ringCapacity),
		logger:   logger,
		limiters: make(map[Kind]*rate.Limiter),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		subs:     make(map[uint64]*subscription),
	}
	for _, kind := range []Kind{KindRuleMatch, KindPacketDrop, KindSessionNew, KindSessionExpire, KindConfigChange, KindSystem} {
		limit, bounded := defaultRateLimits[kind]
		if !bounded {
			p.limiters[kind] = rate.NewLimiter(rate.Inf, 0)
			continue
		}
		p.limiters[kind] = rate.NewLimiter(limit, int(limit))
	}
	p.wg.Add(1)
	go p.drainLoop()
	return p
}

// Close stops the drain worker and closes all subscriber channels.
func (p *Pipeline) Close() {
	close(p.stop)
	p.wg.Wait()

	p.subMu.Lock()
	defer p.subMu.Unlock()
	for id, sub := range p.subs {
		close(sub.ch)
		delete(p.subs, id)
	}
}

// Emit stamps evt with an id and timestamp if unset and enqueues it on
// the ring. It returns false if the ring was full, in which case the
// event is discarded without blocking the caller.
func (p *Pipeline) Emit(evt Event) bool {
	if evt.ID == 0 {
		evt.ID = p.nextID.Add(1)
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = nowNano()
	}
	ok := p.r.push(evt)
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return ok
}

// DroppedCount reports how many events were discarded because the ring
// was full at produce time.
func (p *Pipeline) DroppedCount() uint64 {
	return p.r.droppedCount()
}

// SubscriberCount reports how many subscriptions are currently active,
// for the daemon's subscriber-count gauge.
func (p *Pipeline) SubscriberCount() int {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	return len(p.subs)
}

func (p *Pipeline) drainLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		for {
			evt, ok := p.r.pop()
			if !ok {
				break
			}
			p.deliver(evt)
		}
		select {
		case <-p.stop:
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) deliver(evt Event) {
	limiter := p.limiters[evt.Kind]
	if limiter != nil && !limiter.Allow() {
		return
	}

	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, sub := range p.subs {
		outgoing := evt
		if sub.lagging.Load() {
			outgoing = evt.withDroppedSince(sub.dropped.Swap(0))
			sub.lagging.Store(false)
		}
		select {
		case sub.ch <- outgoing:
		default:
			sub.dropped.Add(1)
			sub.lagging.Store(true)
		}
	}
}

// Subscribe registers a new event-stream subscriber with a bounded
// buffer. It returns the channel to receive on and a cancel function
// that unregisters the subscription and releases its buffer.
func (p *Pipeline) Subscribe() (<-chan Event, func(), error) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	if len(p.subs) >= MaxSubscriptions {
		return nil, nil, errors.Errorf(errors.KindCapacityExhausted, "max %d concurrent subscriptions reached", MaxSubscriptions)
	}

	p.nextSubID++
	id := p.nextSubID
	sub := &subscription{id: id, ch: make(chan Event, DefaultSubscriberBuffer)}
	p.subs[id] = sub

	cancel := func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		if s, ok := p.subs[id]; ok {
			close(s.ch)
			delete(p.subs, id)
		}
	}
	return sub.ch, cancel, nil
}
