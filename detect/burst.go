// Package detect flags repeated-shape traffic: the same namespace and
// document shape occurring threshold-or-more times inside a sliding window,
// the signature of an N+1 access pattern.
package detect

import (
	"sync"
	"time"

	"github.com/mongotap/mongotap/document"
	"github.com/mongotap/mongotap/listener"
	"github.com/mongotap/mongotap/shape"
	"github.com/mongotap/mongotap/wire"
)

// Alert represents a detected burst of repeated-shape traffic.
type Alert struct {
	Key   string
	Count int
}

// Result holds the outcome of an Observe call.
type Result struct {
	// Matched is true when the key's occurrence count is at or above the
	// threshold within the time window. Use this to mark every event in the
	// pattern.
	Matched bool
	// Alert is non-nil only when the threshold is first crossed (respecting
	// cooldown). Use this to trigger a one-time notification.
	Alert *Alert
}

// Detector tracks, per namespace+shape key, how many times that key has
// occurred within a sliding window, and reports bursts no more often than
// once per cooldown.
type Detector struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	cooldown  time.Duration
	seen      map[string][]time.Time
	lastAlert map[string]time.Time
}

// New creates a Detector.
// threshold: number of occurrences to trigger (e.g., 5).
// window: time window to count within (e.g., 1s).
// cooldown: minimum time between alerts for the same key (e.g., 10s).
func New(threshold int, window, cooldown time.Duration) *Detector {
	return &Detector{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		seen:      make(map[string][]time.Time),
		lastAlert: make(map[string]time.Time),
	}
}

// Observe registers an occurrence of selector against namespace at time t.
// The detector reduces namespace+selector to a shape key internally, so
// callers never construct or pass a key themselves.
func (d *Detector) Observe(namespace string, selector document.Document, t time.Time) Result {
	if namespace == "" {
		return Result{}
	}
	return d.record(namespace+"|"+shape.Normalize(selector), t)
}

func (d *Detector) record(key string, t time.Time) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := t.Add(-d.window)

	// Evict old entries and append new timestamp.
	times := d.seen[key]
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	times = append(times[start:], t)
	d.seen[key] = times

	if len(times) < d.threshold {
		return Result{}
	}

	res := Result{Matched: true}

	// Only fire alert notification respecting cooldown.
	if last, ok := d.lastAlert[key]; !ok || t.Sub(last) >= d.cooldown {
		d.lastAlert[key] = t
		res.Alert = &Alert{Key: key, Count: len(times)}
	}

	return res
}

// BurstListener wires a Detector into a listener.Bus: every Query, Update,
// and Delete is observed against the detector, and onBurst fires the first
// time a namespace+shape key crosses the threshold within the configured
// window (respecting cooldown).
func BurstListener(d *Detector, onBurst func(Alert)) listener.Listener {
	observe := func(namespace string, selector document.Document) {
		if r := d.Observe(namespace, selector, time.Now()); r.Alert != nil && onBurst != nil {
			onBurst(*r.Alert)
		}
	}

	return listener.Listener{
		Name: "burst-detector",
		BeforeQuery: func(env listener.Envelope) {
			if env.Message.Query == nil {
				return
			}
			db, coll := wire.Namespace(env.Message.Query.Namespace)
			observe(db+"."+coll, env.Message.Query.Selector)
		},
		BeforeUpdate: func(env listener.Envelope) {
			if env.Message.Update == nil {
				return
			}
			db, coll := wire.Namespace(env.Message.Update.Namespace)
			observe(db+"."+coll, env.Message.Update.Selector)
		},
		BeforeDelete: func(env listener.Envelope) {
			if env.Message.Delete == nil {
				return
			}
			db, coll := wire.Namespace(env.Message.Delete.Namespace)
			observe(db+"."+coll, env.Message.Delete.Selector)
		},
	}
}
