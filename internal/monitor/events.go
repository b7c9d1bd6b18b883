package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/moorhen/cartograph/internal/adapter"
	"github.com/moorhen/cartograph/internal/logging"
	"github.com/moorhen/cartograph/internal/models"
)

// PollEventsOnce fetches audit events from every configured source since its
// last successful poll and appends mutation events to the change log.
// Read-only events are excluded. Per-source failures are contained.
func (m *Monitor) PollEventsOnce(ctx context.Context) (int, error) {
	total := 0
	for _, src := range m.opts.EventSources {
		key := fmt.Sprintf("%s/%s", src.Type(), src.Provider())
		m.mu.Lock()
		since := m.lastPoll[key]
		m.mu.Unlock()

		events, err := src.FetchEvents(ctx, since)
		if err != nil {
			m.logger.WarnWithFields("event fetch failed",
				logging.Field("source", key),
				logging.Field("error", err.Error()),
			)
			continue
		}
		polledAt := time.Now()

		n, err := m.ingestEvents(ctx, src.Provider(), events)
		if err != nil {
			m.logger.WarnWithFields("event ingestion failed",
				logging.Field("source", key),
				logging.Field("error", err.Error()),
			)
			continue
		}
		total += n

		m.mu.Lock()
		m.lastPoll[key] = polledAt
		m.mu.Unlock()
	}
	return total, nil
}

func (m *Monitor) ingestEvents(ctx context.Context, provider models.Provider, events []adapter.CloudEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	nodeIDs, err := m.nodeIDsByNativeID(ctx, provider)
	if err != nil {
		return 0, err
	}

	var changes []models.Change
	for _, ev := range events {
		if ev.ReadOnly {
			continue
		}
		targetID := ev.ResourceID
		if id, ok := nodeIDs[ev.ResourceID]; ok {
			targetID = id
		}
		initiatorType := models.InitiatorUnknown
		if ev.Actor != "" {
			initiatorType = models.InitiatorHuman
		}
		changes = append(changes, models.Change{
			TargetID:      targetID,
			ChangeType:    changeTypeForEvent(ev.EventType),
			DetectedAt:    ev.Timestamp,
			DetectedVia:   models.DetectedViaEventStream,
			Initiator:     ev.Actor,
			InitiatorType: initiatorType,
			Metadata: map[string]interface{}{
				"eventId":   ev.ID,
				"eventType": ev.EventType,
				"success":   ev.Success,
			},
		})
	}
	if len(changes) == 0 {
		return 0, nil
	}
	if err := m.engine.Store().AppendChanges(ctx, changes); err != nil {
		return 0, err
	}
	return len(changes), nil
}

// changeTypeForEvent maps provider event names onto change types by
// substring: create/run/launch mean creation, delete/terminate/remove mean
// deletion, anything else is an update.
func changeTypeForEvent(eventType string) models.ChangeType {
	lower := strings.ToLower(eventType)
	for _, s := range []string{"create", "run", "launch"} {
		if strings.Contains(lower, s) {
			return models.ChangeNodeCreated
		}
	}
	for _, s := range []string{"delete", "terminate", "remove"} {
		if strings.Contains(lower, s) {
			return models.ChangeNodeDeleted
		}
	}
	return models.ChangeNodeUpdated
}

func (m *Monitor) nodeIDsByNativeID(ctx context.Context, provider models.Provider) (map[string]string, error) {
	nodes, err := m.engine.Store().QueryNodes(ctx, &models.NodeFilter{Provider: provider})
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(nodes))
	for _, n := range nodes {
		out[n.NativeID] = n.ID
	}
	return out, nil
}
