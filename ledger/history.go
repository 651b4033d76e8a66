package ledger

import "context"

// MaxHistoryLimit is the service-enforced ceiling on one history page,
// regardless of the requested limit.
const MaxHistoryLimit = 50

// History is the read path over ledger entries. It never locks against the
// engine's writes: it may observe a slightly stale view but, because entries
// only become visible at commit, never a partially committed transfer.
type History struct {
	store Store
}

func NewHistory(store Store) *History {
	return &History{store: store}
}

// List returns entries where owner is sender or recipient, newest first,
// each annotated with the owner's direction.
func (h *History) List(ctx context.Context, owner OwnerID, limit int) ([]HistoryEntry, error) {
	if owner == "" {
		return nil, &InputError{Field: "ownerId", Reason: "must not be empty"}
	}
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	entries, err := h.store.ListEntriesByOwner(ctx, owner, limit)
	if err != nil {
		return nil, err
	}

	result := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		dir := DirectionReceived
		if e.From == owner {
			dir = DirectionSent
		}
		result = append(result, HistoryEntry{Entry: e, Direction: dir})
	}
	return result, nil
}
