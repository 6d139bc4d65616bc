package ingest

import (
	"sync"

	"github.com/wavecrest/heatsync/internal/models"
	"github.com/wavecrest/heatsync/internal/remote"
)

// Notifier fans score-changed notifications out to local listeners (UI,
// live-total computation, canonical cache invalidation). Listeners run on
// the submitting goroutine; they must be quick and must not block.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]func(models.Score)
	next int
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(models.Score))}
}

// Subscribe registers fn and returns its disposer. The disposer is the only
// cleanup hook and is safe to call more than once.
func (n *Notifier) Subscribe(fn func(models.Score)) remote.Unsubscribe {
	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Notify fans one score change out to every subscriber.
func (n *Notifier) Notify(sc models.Score) {
	n.mu.Lock()
	fns := make([]func(models.Score), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(sc)
	}
}

// Len reports the live subscriber count. Test hook for leak checks.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
