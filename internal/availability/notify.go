package availability

import (
	"context"
	"log/slog"

	"github.com/alfredjeanlab/sitegate/internal/authz"
	"github.com/alfredjeanlab/sitegate/internal/events"
	"github.com/alfredjeanlab/sitegate/internal/model"
)

// NotifyingStore publishes every committed singleton write on the event
// bus. Publishing is best-effort: the write has already succeeded.
type NotifyingStore struct {
	Store
	pub    events.Publisher
	logger *slog.Logger
}

// Notify wraps s so writes are pushed to every broadcaster.
func Notify(s Store, pub events.Publisher, logger *slog.Logger) *NotifyingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyingStore{Store: s, pub: pub, logger: logger}
}

func (n *NotifyingStore) UpdateSingleton(ctx context.Context, id string, fields model.StatusFields) (*model.SiteStatus, error) {
	row, err := n.Store.UpdateSingleton(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	ev := events.StatusUpdated{Status: row, UpdatedBy: authz.ActorFromContext(ctx)}
	if err := n.pub.Publish(ctx, events.TopicStatusUpdated, ev); err != nil {
		n.logger.Warn("failed to publish status update", "id", row.ID, "error", err)
	}
	return row, nil
}
