package anchor

import (
	"context"
	"log"

	"consentd/internal/domain"
)

const defaultQueueSize = 64

type job struct {
	kind      string
	record    domain.ConsentRecord
	consentID string
	newStatus domain.ConsentStatus
}

// Dispatcher decouples anchoring from request latency. Jobs are processed by
// Run on a single goroutine; a full queue drops the job, leaving the record
// receiptless rather than blocking the caller.
type Dispatcher struct {
	anchors domain.AnchorService
	jobs    chan job
}

func NewDispatcher(anchors domain.AnchorService, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		anchors: anchors,
		jobs:    make(chan job, queueSize),
	}
}

func (d *Dispatcher) ScheduleGrant(record domain.ConsentRecord) {
	d.enqueue(job{kind: domain.AnchorKindGrant, record: record})
}

func (d *Dispatcher) ScheduleStatusChange(consentID string, newStatus domain.ConsentStatus) {
	d.enqueue(job{kind: domain.AnchorKindStatus, consentID: consentID, newStatus: newStatus})
}

func (d *Dispatcher) enqueue(j job) {
	select {
	case d.jobs <- j:
	default:
		log.Printf("anchor: queue full, dropping %s job for %s", j.kind, jobConsentID(j))
	}
}

// Run drains the queue until ctx is cancelled. Jobs already dequeued finish
// with a fresh context so shutdown does not abort an in-flight submission.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-d.jobs:
			d.process(j)
		}
	}
}

func (d *Dispatcher) process(j job) {
	ctx := context.Background()
	switch j.kind {
	case domain.AnchorKindGrant:
		if _, err := d.anchors.AnchorGrant(ctx, j.record); err != nil {
			log.Printf("anchor: grant %s: %v", j.record.ConsentID, err)
		}
	case domain.AnchorKindStatus:
		if _, err := d.anchors.AnchorStatusChange(ctx, j.consentID, j.newStatus); err != nil {
			log.Printf("anchor: status %s: %v", j.consentID, err)
		}
	}
}

func jobConsentID(j job) string {
	if j.kind == domain.AnchorKindGrant {
		return j.record.ConsentID
	}
	return j.consentID
}

// SyncScheduler anchors inline on the calling goroutine. Used where the
// receipt should be attached before the response is written, and in tests.
type SyncScheduler struct {
	Anchors domain.AnchorService
}

func (s SyncScheduler) ScheduleGrant(record domain.ConsentRecord) {
	_, _ = s.Anchors.AnchorGrant(context.Background(), record)
}

func (s SyncScheduler) ScheduleStatusChange(consentID string, newStatus domain.ConsentStatus) {
	_, _ = s.Anchors.AnchorStatusChange(context.Background(), consentID, newStatus)
}
