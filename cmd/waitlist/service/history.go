package service

import (
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/hellocng/deepstack-sub002/common/models"
)

// HistoryStep is one recorded mutation and the entry as it looked right after it
type HistoryStep struct {
	Event *models.EntryEvent    `json:"event"`
	Entry *models.WaitlistEntry `json:"entry"`
}

// newEvent records a change as a merge patch from the previous snapshot.
// An insert is recorded as a patch from the empty document.
func newEvent(change Change, actor string, at time.Time) (*models.EntryEvent, error) {
	before := []byte("{}")
	if change.Before != nil {
		var err error
		if before, err = json.Marshal(change.Before); err != nil {
			return nil, fmt.Errorf("failed to marshal entry snapshot: %w", err)
		}
	}

	after, err := json.Marshal(change.After)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry snapshot: %w", err)
	}

	patch, err := jsonpatch.CreateMergePatch(before, after)
	if err != nil {
		return nil, fmt.Errorf("failed to diff entry %s: %w", change.After.ID, err)
	}

	event := &models.EntryEvent{
		EntryID:   change.After.ID,
		Action:    change.Action,
		Patch:     patch,
		CreatedAt: at,
	}
	if actor != "" {
		event.Actor = &actor
	}

	return event, nil
}

// Replay applies each event's merge patch in order and returns the snapshot after every step
func Replay(events []*models.EntryEvent) ([]HistoryStep, error) {
	steps := make([]HistoryStep, 0, len(events))
	current := []byte("{}")

	for _, ev := range events {
		next, err := jsonpatch.MergePatch(current, ev.Patch)
		if err != nil {
			return nil, fmt.Errorf("failed to apply patch seq=%d of entry %s: %w", ev.Seq, ev.EntryID, err)
		}
		current = next

		var snapshot models.WaitlistEntry
		if err := json.Unmarshal(current, &snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot seq=%d: %w", ev.Seq, err)
		}

		steps = append(steps, HistoryStep{Event: ev, Entry: &snapshot})
	}

	return steps, nil
}
