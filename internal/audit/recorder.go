package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the number of audit records that may wait for the
// database before new ones are dropped.
const DefaultQueueSize = 512

// Recorder feeds hub lifecycle events to an AuditService from its own
// goroutine. Its methods never block: when the queue is full the record is
// dropped with a warning.
type Recorder struct {
	service *AuditService
	queue   chan record
	logger  logrus.FieldLogger
}

type record struct {
	action string
	write  func() error
}

func NewRecorder(service *AuditService, queueSize int, logger logrus.FieldLogger) *Recorder {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Recorder{
		service: service,
		queue:   make(chan record, queueSize),
		logger:  logger.WithField("component", "audit"),
	}
}

// Run writes queued records until ctx is cancelled, then flushes what is
// already queued.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		case <-ctx.Done():
			r.flush()
			return
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		default:
			return
		}
	}
}

func (r *Recorder) write(rec record) {
	if err := rec.write(); err != nil {
		r.logger.WithError(err).WithField("action", rec.action).Error("write audit log failed")
	}
}

func (r *Recorder) enqueue(action string, write func() error) {
	select {
	case r.queue <- record{action: action, write: write}:
	default:
		r.logger.WithField("action", action).Warn("audit queue full, record dropped")
	}
}

func (r *Recorder) SessionJoined(id int, name, color string) {
	r.enqueue(ActionSessionJoin, func() error {
		return r.service.LogSessionJoin(id, name, color)
	})
}

func (r *Recorder) SessionLeft(id int, name, color string) {
	r.enqueue(ActionSessionLeave, func() error {
		return r.service.LogSessionLeave(id, name, color)
	})
}

func (r *Recorder) CanvasRelayed(from int, recipients []int, size int) {
	r.enqueue(ActionCanvasRelay, func() error {
		return r.service.LogCanvasRelay(from, recipients, size)
	})
}

func (r *Recorder) CanvasExpired(waiters []int) {
	r.enqueue(ActionCanvasExpired, func() error {
		return r.service.LogCanvasExpired(waiters)
	})
}
