// Package notifier pushes the rendered booking snapshot to connected display
// screens on a fixed interval. It only pulls from the booking engine; command
// handling is never blocked by a slow or vanished screen.
package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"roomview/internal/booking/service"
	"roomview/internal/snapshot"
	"roomview/pkg/logger"
)

type Notifier struct {
	service  service.BookingService
	loc      *time.Location
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(svc service.BookingService, loc *time.Location, interval time.Duration, log *logger.Logger) *Notifier {
	return &Notifier{
		service:  svc,
		loc:      loc,
		interval: interval,
		log:      log,
		clients:  make(map[chan []byte]struct{}),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the pull loop. One snapshot is produced per tick and fanned
// out to every connected screen.
func (n *Notifier) Start() {
	go n.run()
	n.log.Info("Snapshot notifier started", "interval", n.interval)
}

func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopCh)
	})
	<-n.done
	n.log.Info("Snapshot notifier stopped")
}

func (n *Notifier) run() {
	defer close(n.done)

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			payload, err := n.buildPayload(time.Now())
			if err != nil {
				n.log.Error("Failed to build display snapshot", "error", err)
				continue
			}
			n.broadcast(payload)
		case <-n.stopCh:
			return
		}
	}
}

// buildPayload pulls the current-and-next-two view, projects it and renders
// the display document.
func (n *Notifier) buildPayload(now time.Time) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), n.interval)
	defer cancel()

	bookings, err := n.service.ListCurrentAndNextTwo(ctx, now.Unix())
	if err != nil {
		return nil, err
	}

	doc := snapshot.RenderView(snapshot.Project(bookings, now.Unix()), n.loc)
	return json.Marshal(doc)
}

func (n *Notifier) subscribe() chan []byte {
	// Buffer one snapshot; a screen that cannot keep up skips ticks rather
	// than stalling the loop.
	ch := make(chan []byte, 1)

	n.mu.Lock()
	n.clients[ch] = struct{}{}
	count := len(n.clients)
	n.mu.Unlock()

	n.log.Info("Screen connected", "clients", count)
	return ch
}

func (n *Notifier) unsubscribe(ch chan []byte) {
	n.mu.Lock()
	delete(n.clients, ch)
	count := len(n.clients)
	n.mu.Unlock()

	n.log.Info("Screen disconnected", "clients", count)
}

func (n *Notifier) broadcast(payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.clients {
		select {
		case ch <- payload:
		default:
			// Client still draining the previous snapshot; drop this one.
		}
	}
}
