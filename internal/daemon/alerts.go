package daemon

import (
	"sync"

	"github.com/DemianF-dev/7pet-mvp-sub001/internal/notify"
)

// feedAlert is one buffered alert as served to the host shell.
type feedAlert struct {
	Seq         uint64           `json:"seq"`
	Kind        notify.AlertKind `json:"kind"`
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	DurationMS  int64            `json:"durationMs"`
	Destination string           `json:"destination,omitempty"`
}

const alertFeedCap = 128

// alertFeed is the daemon's alert surface. The process has no display or
// speaker of its own, so coordinator alerts are buffered here and the shell
// drains them by long-polling /v1/alerts; audio cues become a counter the
// shell pairs with the /v1/chime WAV.
type alertFeed struct {
	mu     sync.Mutex
	buf    []feedAlert
	seq    uint64
	chimes uint64
	wake   chan struct{}
}

var (
	_ notify.Alerter = (*alertFeed)(nil)
	_ notify.Player  = (*alertFeed)(nil)
)

func newAlertFeed() *alertFeed {
	return &alertFeed{wake: make(chan struct{})}
}

// Show buffers the alert and wakes any long-poll waiter. The buffer is a
// window: a shell that falls more than alertFeedCap alerts behind loses the
// oldest ones.
func (f *alertFeed) Show(a notify.Alert) {
	f.mu.Lock()
	f.seq++
	f.buf = append(f.buf, feedAlert{
		Seq:         f.seq,
		Kind:        a.Kind,
		Title:       a.Title,
		Body:        a.Body,
		DurationMS:  a.Duration.Milliseconds(),
		Destination: a.Destination,
	})
	if len(f.buf) > alertFeedCap {
		f.buf = f.buf[len(f.buf)-alertFeedCap:]
	}
	f.wakeLocked()
	f.mu.Unlock()
}

// Play counts the cue instead of playing it; the shell plays the chime
// locally whenever the count advances.
func (f *alertFeed) Play(_ []byte) error {
	f.mu.Lock()
	f.chimes++
	f.wakeLocked()
	f.mu.Unlock()
	return nil
}

func (f *alertFeed) wakeLocked() {
	close(f.wake)
	f.wake = make(chan struct{})
}

// Since returns the buffered alerts with a sequence greater than after, the
// cursor for the next poll and the cumulative chime count.
func (f *alertFeed) Since(after uint64) ([]feedAlert, uint64, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]feedAlert, 0, len(f.buf))
	for _, a := range f.buf {
		if a.Seq > after {
			out = append(out, a)
		}
	}
	return out, f.seq, f.chimes
}

// Wait returns a channel closed on the next Show or Play.
func (f *alertFeed) Wait() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wake
}
