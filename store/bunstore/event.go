package bunstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/id"
)

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m, err := toEventModel(evt)
	if err != nil {
		return err
	}
	if evt.IdempotencyKey == "" {
		_, err = s.db.NewInsert().Model(m).Exec(ctx)
		return err
	}

	// Keyless events never collide; keyed ones ride the partial unique
	// index so the duplicate check is atomic with the write.
	res, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (idempotency_key) WHERE idempotency_key != '' DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return event.ErrDuplicateIdempotencyKey
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", evtID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, loom.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.db.NewSelect().Model(&models)

	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	if opts.From != nil {
		q = q.Where("created_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("created_at <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return eventsFromModels(models)
}

func (s *Store) ListEventsByCorrelation(ctx context.Context, correlationID string) ([]*event.Event, error) {
	var models []eventModel
	err := s.db.NewSelect().
		Model(&models).
		Where("correlation_id = ?", correlationID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return eventsFromModels(models)
}

func eventsFromModels(models []eventModel) ([]*event.Event, error) {
	result := make([]*event.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}
