package supervisor

import (
	"context"
	"fmt"

	"github.com/hellocng/deepstack-sub002/common/logger"
	"github.com/hellocng/deepstack-sub002/common/models"
	"github.com/hellocng/deepstack-sub002/common/notifier"
	"github.com/hellocng/deepstack-sub002/common/queue"
	"github.com/hellocng/deepstack-sub002/common/repository"
	"github.com/hellocng/deepstack-sub002/common/telemetry"
)

// Violation describes a partition that breaks the queue shape
type Violation struct {
	Partition models.Partition
	Reason    string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Partition.Key(), v.Reason)
}

// PartitionAuditor re-reads every changed partition and reports broken ordering
type PartitionAuditor struct {
	queue     queue.Queue
	entries   repository.EntryReader
	log       *logger.Logger
	telemetry *telemetry.Telemetry

	onViolation func(Violation)
}

// NewPartitionAuditor creates an auditor fed by the change topic on q
func NewPartitionAuditor(q queue.Queue, entries repository.EntryReader, log *logger.Logger, t *telemetry.Telemetry) *PartitionAuditor {
	return &PartitionAuditor{
		queue:     q,
		entries:   entries,
		log:       log,
		telemetry: t,
	}
}

// OnViolation registers a callback run for every violation found
func (a *PartitionAuditor) OnViolation(fn func(Violation)) {
	a.onViolation = fn
}

// Start subscribes to change events; the subscription ends with ctx
func (a *PartitionAuditor) Start(ctx context.Context) error {
	return a.queue.Subscribe(ctx, notifier.QueueTopic, a.handle)
}

func (a *PartitionAuditor) handle(ctx context.Context, _ string, value []byte) error {
	ev, err := notifier.Decode(value)
	if err != nil {
		return err
	}

	_, err = a.Audit(ctx, ev.Partition())
	return err
}

// Audit checks one partition and returns what it found wrong
func (a *PartitionAuditor) Audit(ctx context.Context, p models.Partition) ([]Violation, error) {
	active, err := a.entries.ListActiveByPartition(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list partition %s: %w", p.Key(), err)
	}

	violations := CheckPartition(p, active)
	for _, v := range violations {
		a.log.WithPartition(p.RoomID, p.GameID).Error("waitlist partition violation", "reason", v.Reason)
		a.telemetry.RecordEvent("waitlist.audit.violation", map[string]any{
			"partition": p.Key(),
			"reason":    v.Reason,
		})
		if a.onViolation != nil {
			a.onViolation(v)
		}
	}

	return violations, nil
}

// CheckPartition verifies that active holds positions 0..n-1 once each
// and that no player appears twice
func CheckPartition(p models.Partition, active []*models.WaitlistEntry) []Violation {
	var violations []Violation

	seenPos := make(map[int]string, len(active))
	seenPlayer := make(map[string]string, len(active))

	for _, e := range active {
		if e.Position < 0 || e.Position >= len(active) {
			violations = append(violations, Violation{p, fmt.Sprintf("entry %s at position %d outside [0,%d)", e.ID, e.Position, len(active))})
		}
		if other, ok := seenPos[e.Position]; ok {
			violations = append(violations, Violation{p, fmt.Sprintf("entries %s and %s share position %d", other, e.ID, e.Position)})
		}
		seenPos[e.Position] = e.ID

		if other, ok := seenPlayer[e.PlayerID]; ok {
			violations = append(violations, Violation{p, fmt.Sprintf("player %s queued twice (%s, %s)", e.PlayerID, other, e.ID)})
		}
		seenPlayer[e.PlayerID] = e.ID
	}

	return violations
}
