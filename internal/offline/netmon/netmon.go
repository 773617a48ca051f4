// Package netmon provides the connectivity status tracker: the single
// authoritative "are we online" signal for the whole application.
//
// The tracker probes a configured health endpoint on an interval and turns
// probe results into online/offline transitions. Consumers either read the
// current flag (IsOnline), force a live check at a decision point (ProbeNow),
// or subscribe to transitions. The tracker also satisfies the remote
// client's Gate interface, so online/offline decisions are made in one place
// rather than re-derived per caller.
package netmon

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// Probe reports whether the network currently looks reachable.
type Probe func(ctx context.Context) bool

// Transition is delivered to subscribers when the online state flips.
type Transition struct {
	Online bool
	At     time.Time
}

// Config holds tracker configuration.
type Config struct {
	// ProbeURL is the health endpoint checked by the default probe.
	ProbeURL string

	// Interval is how often the monitor probes (default: 15s).
	Interval time.Duration

	// Timeout bounds each probe (default: 3s).
	Timeout time.Duration

	// Probe overrides the default HTTP probe (used by tests).
	Probe Probe

	// Logger for tracker activity (default: stderr logger).
	Logger *log.Logger
}

// Tracker watches connectivity and fans transitions out to subscribers.
type Tracker struct {
	probe    Probe
	interval time.Duration
	logger   *log.Logger

	mu         sync.Mutex
	online     bool
	wasOffline bool
	subs       []chan Transition

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Tracker. The initial online flag comes from one synchronous
// probe, mirroring "expose the current platform-reported flag as the initial
// value".
func New(cfg Config) *Tracker {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}

	probe := cfg.Probe
	if probe == nil {
		probe = httpProbe(cfg.ProbeURL, cfg.Timeout)
	}

	t := &Tracker{
		probe:    probe,
		interval: cfg.Interval,
		logger:   cfg.Logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	t.online = probe(ctx)
	cancel()

	return t
}

// httpProbe builds the default probe: a HEAD request against the health URL.
func httpProbe(url string, timeout time.Duration) Probe {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) bool {
		if url == "" {
			return true
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode < http.StatusInternalServerError
	}
}

// Start launches the monitor goroutine. Call Stop to shut it down.
func (t *Tracker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(1)
	go t.monitor(ctx)
}

// Stop shuts the monitor down and waits for it.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

func (t *Tracker) monitor(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.observe(t.probe(ctx))
		}
	}
}

// observe records a probe result and notifies subscribers on a flip.
func (t *Tracker) observe(online bool) {
	t.mu.Lock()
	changed := online != t.online
	t.online = online
	if changed && online {
		// offline -> online: arm the recovery latch
		t.wasOffline = true
	}
	var subs []chan Transition
	if changed {
		subs = make([]chan Transition, len(t.subs))
		copy(subs, t.subs)
	}
	t.mu.Unlock()

	if !changed {
		return
	}

	if online {
		t.logger.Printf("Connectivity restored")
	} else {
		t.logger.Printf("Connectivity lost")
	}

	tr := Transition{Online: online, At: time.Now()}
	for _, ch := range subs {
		// Non-blocking: a slow subscriber drops intermediate transitions,
		// never stalls the monitor
		select {
		case ch <- tr:
		default:
		}
	}
}

// IsOnline returns the last observed online flag.
func (t *Tracker) IsOnline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// Online satisfies the remote client's Gate interface.
func (t *Tracker) Online() bool {
	return t.IsOnline()
}

// ProbeNow performs a live connectivity check and records the result.
//
// Mutation submission uses this instead of IsOnline: the online/offline
// decision must reflect the instant of submission, not a possibly stale
// subscribed value.
func (t *Tracker) ProbeNow(ctx context.Context) bool {
	online := t.probe(ctx)
	t.observe(online)
	return online
}

// WasOffline reports whether an offline -> online transition has been
// observed and not yet cleared. Consumers clear it after driving their
// one-shot "back online" behavior.
func (t *Tracker) WasOffline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wasOffline
}

// ClearWasOffline resets the recovery latch.
func (t *Tracker) ClearWasOffline() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wasOffline = false
}

// Subscribe returns a channel that receives online-state transitions.
// The channel is buffered; intermediate flips may be dropped under load but
// the latest state is always queryable via IsOnline.
func (t *Tracker) Subscribe() <-chan Transition {
	ch := make(chan Transition, 1)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()
	return ch
}
