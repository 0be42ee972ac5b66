package events

import (
	"context"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Policy
// =============================================================================

// PolicyKind selects how a Throttler buffers an event name.
type PolicyKind int

const (
	// Immediate forwards every event as it arrives.
	Immediate PolicyKind = iota

	// DelayedMerge keeps only the latest payload and forwards it once the
	// name has been quiet for the window.
	DelayedMerge

	// Throttle forwards at most one event per window. Events inside the
	// window replace the pending payload, which is sent when it closes.
	Throttle
)

// Policy is a buffering strategy with its window.
type Policy struct {
	Kind   PolicyKind
	Window time.Duration
}

// ImmediatePolicy forwards without buffering.
func ImmediatePolicy() Policy { return Policy{Kind: Immediate} }

// MergePolicy coalesces events until the name is quiet for d.
func MergePolicy(d time.Duration) Policy { return Policy{Kind: DelayedMerge, Window: d} }

// ThrottlePolicy rate-limits a name to one event per d.
func ThrottlePolicy(d time.Duration) Policy { return Policy{Kind: Throttle, Window: d} }

// DefaultPolicy applies to names without an entry in the policy map.
var DefaultPolicy = MergePolicy(500 * time.Millisecond)

// DefaultPolicies returns the built-in policy map.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		ErrorOccurred:          ImmediatePolicy(),
		SystemStatus:           ImmediatePolicy(),
		"model-status-changed": ImmediatePolicy(),
		MonitorStarted:         ImmediatePolicy(),
		MonitorError:           ImmediatePolicy(),
		ScanStarted:            ImmediatePolicy(),
		ScanCompleted:          ImmediatePolicy(),

		"tags-updated":   MergePolicy(5 * time.Second),
		BatchDelivered:   MergePolicy(3 * time.Second),
		"task-completed": MergePolicy(2 * time.Second),

		"parsing-progress":   ThrottlePolicy(time.Second),
		"screening-progress": ThrottlePolicy(time.Second),
		FileProcessed:        ThrottlePolicy(2 * time.Second),
	}
}

// =============================================================================
// Throttler
// =============================================================================

// DefaultFlushInterval is how often buffered events are checked.
const DefaultFlushInterval = time.Second

// ThrottlerOptions configures a Throttler.
type ThrottlerOptions struct {
	Policies      map[string]Policy
	Default       *Policy
	FlushInterval time.Duration
	Now           func() time.Time
}

type bufferedEvent struct {
	payload any
	first   time.Time
	last    time.Time
	count   int
}

// Throttler buffers events per name according to a policy and forwards
// them to next.
type Throttler struct {
	next     Emitter
	policies map[string]Policy
	fallback Policy
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	buffered map[string]*bufferedEvent
	lastSent map[string]time.Time
}

// NewThrottler creates a throttler in front of next.
func NewThrottler(next Emitter, opts ThrottlerOptions) *Throttler {
	t := &Throttler{
		next:     next,
		policies: opts.Policies,
		fallback: DefaultPolicy,
		interval: opts.FlushInterval,
		now:      opts.Now,
		buffered: make(map[string]*bufferedEvent),
		lastSent: make(map[string]time.Time),
	}
	if t.policies == nil {
		t.policies = DefaultPolicies()
	}
	if opts.Default != nil {
		t.fallback = *opts.Default
	}
	if t.interval <= 0 {
		t.interval = DefaultFlushInterval
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// PolicyFor returns the policy applied to name.
func (t *Throttler) PolicyFor(name string) Policy {
	if p, ok := t.policies[name]; ok {
		return p
	}
	return t.fallback
}

// Emit routes one event through its policy.
func (t *Throttler) Emit(name string, payload any) {
	policy := t.PolicyFor(name)
	if policy.Kind == Immediate {
		t.next.Emit(name, payload)
		return
	}

	now := t.now()

	t.mu.Lock()
	if policy.Kind == Throttle {
		last, sent := t.lastSent[name]
		if !sent || now.Sub(last) >= policy.Window {
			t.lastSent[name] = now
			delete(t.buffered, name)
			t.mu.Unlock()
			t.next.Emit(name, payload)
			return
		}
	}
	t.buffer(name, payload, now)
	t.mu.Unlock()
}

// buffer keeps the latest payload for name. Callers hold t.mu.
func (t *Throttler) buffer(name string, payload any, now time.Time) {
	if b, ok := t.buffered[name]; ok {
		b.payload = payload
		b.last = now
		b.count++
		return
	}
	t.buffered[name] = &bufferedEvent{payload: payload, first: now, last: now, count: 1}
}

// Run flushes due events every interval until ctx is done, then flushes
// everything left.
func (t *Throttler) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.FlushAll()
			return ctx.Err()
		case <-ticker.C:
			t.FlushDue()
		}
	}
}

type pendingEmit struct {
	name    string
	payload any
	first   time.Time
}

// FlushDue forwards every buffered event whose window has passed.
func (t *Throttler) FlushDue() int {
	now := t.now()

	t.mu.Lock()
	var due []pendingEmit
	for name, b := range t.buffered {
		policy := t.PolicyFor(name)
		ready := false
		switch policy.Kind {
		case DelayedMerge:
			ready = now.Sub(b.last) >= policy.Window
		case Throttle:
			ready = now.Sub(t.lastSent[name]) >= policy.Window
		default:
			ready = true
		}
		if !ready {
			continue
		}
		due = append(due, pendingEmit{name: name, payload: b.payload, first: b.first})
		delete(t.buffered, name)
		if policy.Kind == Throttle {
			t.lastSent[name] = now
		}
	}
	t.mu.Unlock()

	return t.emitAll(due)
}

// FlushAll forwards every buffered event regardless of its window.
func (t *Throttler) FlushAll() int {
	t.mu.Lock()
	due := make([]pendingEmit, 0, len(t.buffered))
	for name, b := range t.buffered {
		due = append(due, pendingEmit{name: name, payload: b.payload, first: b.first})
	}
	t.buffered = make(map[string]*bufferedEvent)
	t.mu.Unlock()

	return t.emitAll(due)
}

func (t *Throttler) emitAll(due []pendingEmit) int {
	sort.Slice(due, func(i, j int) bool { return due[i].first.Before(due[j].first) })
	for _, p := range due {
		t.next.Emit(p.name, p.payload)
	}
	return len(due)
}

// Stats returns the number of merged events currently buffered per name.
func (t *Throttler) Stats() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int, len(t.buffered))
	for name, b := range t.buffered {
		out[name] = b.count
	}
	return out
}
