package audit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// ErrSinkPanic reports a sink that panicked while writing an entry.
var ErrSinkPanic = errors.New("audit sink panicked")

// DefaultBufferSize is the number of entries retained in memory for queries.
const DefaultBufferSize = 1000

// Sink receives every logged entry. Implementations must be safe for
// concurrent use.
type Sink interface {
	Write(entry Entry) error
	Flush() error
	Name() string
}

// Options configures a Logger.
type Options struct {
	// BufferSize caps the in-memory ring buffer. Zero selects DefaultBufferSize.
	BufferSize int
	// Fallback receives sink failure reports. Defaults to os.Stderr.
	Fallback io.Writer
	// OnSinkError is called after a sink failed to accept an entry.
	OnSinkError func(sink string, err error)
	// Now overrides the clock used to stamp entries without a timestamp.
	Now func() time.Time
}

// Logger fans audit entries out to its sinks and keeps the most recent ones
// in a bounded ring buffer. A failing sink never fails the caller; the error
// is reported on the fallback writer instead.
type Logger struct {
	sinkMu sync.Mutex
	sinks  []Sink

	mu    sync.RWMutex
	ring  []Entry
	start int
	count int

	fallback    io.Writer
	onSinkError func(string, error)
	now         func() time.Time
}

// NewLogger creates a logger without sinks.
func NewLogger(opts Options) *Logger {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = os.Stderr
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Logger{
		ring:        make([]Entry, size),
		fallback:    fallback,
		onSinkError: opts.OnSinkError,
		now:         now,
	}
}

// AddSink registers an additional sink.
func (l *Logger) AddSink(s Sink) {
	l.sinkMu.Lock()
	defer l.sinkMu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Log dispatches entry to every sink and appends it to the ring buffer,
// evicting the oldest entry when full.
func (l *Logger) Log(entry Entry) {
	if entry.Timestamp == 0 {
		entry.Timestamp = l.now().Unix()
	}

	l.writeSinks(entry)

	l.mu.Lock()
	defer l.mu.Unlock()
	idx := (l.start + l.count) % len(l.ring)
	l.ring[idx] = entry
	if l.count < len(l.ring) {
		l.count++
	} else {
		l.start = (l.start + 1) % len(l.ring)
	}
}

func (l *Logger) Info(event Event, component string) {
	l.Log(l.entry(LevelInfo, event, component))
}

func (l *Logger) Warning(event Event, component string) {
	l.Log(l.entry(LevelWarning, event, component))
}

func (l *Logger) Error(event Event, component string) {
	l.Log(l.entry(LevelError, event, component))
}

func (l *Logger) Critical(event Event, component string) {
	l.Log(l.entry(LevelCritical, event, component))
}

func (l *Logger) Security(event Event, component string) {
	l.Log(l.entry(LevelSecurity, event, component))
}

func (l *Logger) writeSinks(entry Entry) {
	l.sinkMu.Lock()
	defer l.sinkMu.Unlock()
	for _, s := range l.sinks {
		if err := writeSink(s, entry); err != nil {
			fmt.Fprintf(l.fallback, "audit sink %s error: %v\n", s.Name(), err)
			if l.onSinkError != nil {
				l.onSinkError(s.Name(), err)
			}
		}
	}
}

// writeSink turns a sink panic into an error.
func writeSink(s Sink, entry Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSinkPanic, r)
		}
	}()
	return s.Write(entry)
}

func (l *Logger) entry(level Level, event Event, component string) Entry {
	return Entry{Timestamp: l.now().Unix(), Level: level, Event: event, Component: component}
}

// Flush flushes every sink and returns the joined errors of those that failed.
func (l *Logger) Flush() error {
	l.sinkMu.Lock()
	defer l.sinkMu.Unlock()
	var errs []error
	for _, s := range l.sinks {
		if err := s.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of buffered entries.
func (l *Logger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Entries returns the buffered entries, oldest first.
func (l *Logger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, l.count)
	for i := 0; i < l.count; i++ {
		out = append(out, l.ring[(l.start+i)%len(l.ring)])
	}
	return out
}

// SecurityEvents returns buffered security-relevant entries with a timestamp
// at or after since, oldest first. A zero since returns all of them.
func (l *Logger) SecurityEvents(since int64) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.IsSecurityRelevant() && e.Timestamp >= since {
			out = append(out, e)
		}
	}
	return out
}

// EventsByComponent returns entries logged by component, newest first. A
// limit of zero or less returns every match.
func (l *Logger) EventsByComponent(component string, limit int) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.Component == component {
			out = append(out, e)
		}
	}
	// Stable reverse keeps insertion order among equal timestamps newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
