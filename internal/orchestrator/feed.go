package orchestrator

import (
	"sync"
	"time"

	"github.com/yangwenmai/retromag/internal/model"
)

// Level classifies feed messages.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
	// LevelReset is sent to subscribers when the feed is cleared.
	LevelReset Level = "reset"
)

// Message is one progress line.
type Message struct {
	Seq   int           `json:"seq"`
	At    time.Time     `json:"at"`
	Level Level         `json:"level"`
	Unit  model.UnitKey `json:"unit,omitempty"`
	Text  string        `json:"text"`
}

// subscriberBuffer bounds each subscriber channel. Slow subscribers miss
// messages rather than stalling generation.
const subscriberBuffer = 64

// Feed is the ordered, append-only progress log of the current top-level
// operation, with fan-out to live subscribers.
type Feed struct {
	mu      sync.Mutex
	msgs    []Message
	seq     int
	lastErr string
	subs    map[chan Message]struct{}
	now     func() time.Time
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: map[chan Message]struct{}{}, now: time.Now}
}

// Reset clears messages and the last error.
func (f *Feed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = nil
	f.lastErr = ""
	f.broadcast(Message{Seq: f.seq, At: f.now(), Level: LevelReset})
}

// Info appends a progress message.
func (f *Feed) Info(unit model.UnitKey, text string) {
	f.append(LevelInfo, unit, text)
}

// Error appends an error message and records it as the last error.
func (f *Feed) Error(unit model.UnitKey, text string) {
	f.append(LevelError, unit, text)
}

func (f *Feed) append(level Level, unit model.UnitKey, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	m := Message{Seq: f.seq, At: f.now(), Level: level, Unit: unit, Text: text}
	f.msgs = append(f.msgs, m)
	if level == LevelError {
		f.lastErr = text
	}
	f.broadcast(m)
}

func (f *Feed) broadcast(m Message) {
	for ch := range f.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

// Messages returns the messages since the last Reset, in order.
func (f *Feed) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.msgs...)
}

// LastError returns the most recent error message, if any.
func (f *Feed) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Subscribe returns a channel of new messages and a cancel func that
// must be called to release it.
func (f *Feed) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
			close(ch)
		})
	}
}
