package store

import (
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/moorhen/cartograph/internal/models"
)

// FieldChange is one field-level difference produced by a node merge.
type FieldChange struct {
	Field      string
	Previous   string
	New        string
	ChangeType models.ChangeType
}

// comparableNode is the node payload used for idempotence checks. Sync
// bookkeeping (LastSyncedAt) is excluded so re-upserting an identical
// payload in a later sync is still a no-op.
type comparableNode struct {
	Provider     models.Provider
	Account      string
	Region       string
	ResourceType models.ResourceType
	NativeID     string
	Name         string
	Status       models.NodeStatus
	Tags         map[string]string
	Metadata     map[string]interface{}
	CostMonthly  float64
	Owner        string
}

func payloadOf(n *models.Node) comparableNode {
	return comparableNode{
		Provider:     n.Provider,
		Account:      n.Account,
		Region:       n.Region,
		ResourceType: n.ResourceType,
		NativeID:     n.NativeID,
		Name:         n.Name,
		Status:       n.Status,
		Tags:         n.Tags,
		Metadata:     n.Metadata,
		CostMonthly:  n.CostMonthly,
		Owner:        n.Owner,
	}
}

// NodePayloadHash hashes the identity-insensitive payload of a node.
func NodePayloadHash(n *models.Node) (uint64, error) {
	return hashstructure.Hash(payloadOf(n), hashstructure.FormatV2, nil)
}

// MergeNode merges an incoming node into the stored one and reports the
// field-level changes. The stored CreatedAt is preserved; LastSyncedAt is
// always taken from the incoming node. Empty incoming tag/metadata maps do
// not wipe stored values.
func MergeNode(existing, incoming models.Node) (models.Node, []FieldChange) {
	merged := existing
	merged.LastSyncedAt = incoming.LastSyncedAt
	if merged.LastSyncedAt.IsZero() {
		merged.LastSyncedAt = time.Now()
	}

	var changes []FieldChange

	if incoming.Name != "" && incoming.Name != existing.Name {
		changes = append(changes, FieldChange{"name", existing.Name, incoming.Name, models.ChangeNodeUpdated})
		merged.Name = incoming.Name
	}
	if incoming.Account != "" && incoming.Account != existing.Account {
		changes = append(changes, FieldChange{"account", existing.Account, incoming.Account, models.ChangeNodeUpdated})
		merged.Account = incoming.Account
	}
	if incoming.Owner != "" && incoming.Owner != existing.Owner {
		changes = append(changes, FieldChange{"owner", existing.Owner, incoming.Owner, models.ChangeNodeUpdated})
		merged.Owner = incoming.Owner
	}
	if incoming.Status != "" && incoming.Status != existing.Status {
		changes = append(changes, FieldChange{"status", string(existing.Status), string(incoming.Status), models.ChangeNodeUpdated})
		merged.Status = incoming.Status
	}
	if incoming.CostMonthly != 0 && incoming.CostMonthly != existing.CostMonthly {
		changes = append(changes, FieldChange{
			"costMonthly",
			fmt.Sprintf("%.2f", existing.CostMonthly),
			fmt.Sprintf("%.2f", incoming.CostMonthly),
			models.ChangeCostChanged,
		})
		merged.CostMonthly = incoming.CostMonthly
	}
	if len(incoming.Tags) > 0 && !mapsEqual(existing.Tags, incoming.Tags) {
		changes = append(changes, FieldChange{"tags", fmt.Sprintf("%v", existing.Tags), fmt.Sprintf("%v", incoming.Tags), models.ChangeNodeUpdated})
		merged.Tags = incoming.Tags
	}
	if len(incoming.Metadata) > 0 && !metadataEqual(existing.Metadata, incoming.Metadata) {
		changes = append(changes, FieldChange{"metadata", "", "", models.ChangeNodeUpdated})
		merged.Metadata = incoming.Metadata
	}

	return merged, changes
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func metadataEqual(a, b map[string]interface{}) bool {
	ha, errA := hashstructure.Hash(a, hashstructure.FormatV2, nil)
	hb, errB := hashstructure.Hash(b, hashstructure.FormatV2, nil)
	if errA != nil || errB != nil {
		return false
	}
	return ha == hb
}
