package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// BedService performs user-initiated bed writes. Online writes go straight to
// the API unless earlier writes for the same bed are still queued; offline
// writes land in the write queue when one is configured and are refused
// otherwise.
type BedService struct {
	api          ports.BedAPI
	store        *StateStore
	queue        *WriteQueue
	connectivity *Connectivity
	log          *zap.Logger
}

var _ ports.MutationApplier = (*BedService)(nil)

func NewBedService(api ports.BedAPI, store *StateStore, queue *WriteQueue, connectivity *Connectivity, log *zap.Logger) *BedService {
	if log == nil {
		log = zap.NewNop()
	}
	if connectivity == nil {
		connectivity = NewConnectivity()
	}
	return &BedService{api: api, store: store, queue: queue, connectivity: connectivity, log: log}
}

func (s *BedService) UpdateStatus(ctx context.Context, bedID string, u domain.StatusUpdate) (*domain.MutationResult, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return s.write(ctx, domain.MutationBedStatus, bedID, u, func(key string) (*domain.Bed, error) {
		return s.api.UpdateBedStatus(ctx, bedID, u, key)
	})
}

func (s *BedService) SetDischargeTime(ctx context.Context, bedID string, u domain.DischargeUpdate) (*domain.MutationResult, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return s.write(ctx, domain.MutationDischargeTime, bedID, u, func(key string) (*domain.Bed, error) {
		return s.api.SetDischargeTime(ctx, bedID, u, key)
	})
}

func (s *BedService) MarkCleaningComplete(ctx context.Context, bedID, notes string) (*domain.MutationResult, error) {
	body := domain.CleaningComplete{Notes: notes}
	return s.write(ctx, domain.MutationCleaningComplete, bedID, body, func(key string) (*domain.Bed, error) {
		return s.api.MarkCleaningComplete(ctx, bedID, notes, key)
	})
}

func (s *BedService) write(ctx context.Context, kind domain.MutationKind, bedID string, payload any, call func(key string) (*domain.Bed, error)) (*domain.MutationResult, error) {
	if bedID == "" {
		return nil, &domain.ValidationError{Field: "bedId", Message: "bed id is required"}
	}
	key := uuid.NewString()

	if !s.connectivity.Online() {
		return s.enqueue(ctx, kind, bedID, payload, key)
	}
	if s.queue != nil {
		// Sending directly while older writes for this bed are queued would
		// let the replay overwrite the newer value.
		behind, err := s.queue.Holds(ctx, bedID)
		if err != nil {
			return nil, err
		}
		if behind {
			s.log.Info("Bed has queued writes, queueing behind them", zap.String("bed_id", bedID))
			return s.enqueue(ctx, kind, bedID, payload, key)
		}
	}

	s.store.BeginMutate(CollectionBeds)
	bed, err := call(key)
	if err != nil {
		if errors.Is(err, domain.ErrTransport) && s.queue != nil {
			s.connectivity.Set(false)
			s.store.MutateSucceeded(CollectionBeds)
			return s.enqueue(ctx, kind, bedID, payload, key)
		}
		s.store.MutateFailed(CollectionBeds, err)
		s.log.Warn("Bed update rejected",
			zap.String("kind", string(kind)),
			zap.String("bed_id", bedID),
			zap.Error(err),
		)
		return nil, err
	}

	s.store.MutateSucceeded(CollectionBeds)
	if err := s.store.UpsertBed(bed); err != nil && !errors.Is(err, domain.ErrStaleUpdate) {
		s.log.Warn("Updated bed not stored", zap.String("bed_id", bedID), zap.Error(err))
	}
	return &domain.MutationResult{Bed: bed}, nil
}

func (s *BedService) enqueue(ctx context.Context, kind domain.MutationKind, bedID string, payload any, key string) (*domain.MutationResult, error) {
	if s.queue == nil {
		return nil, domain.ErrOffline
	}
	m, err := s.queue.Enqueue(ctx, kind, bedID, payload, key)
	if err != nil {
		return nil, err
	}
	return &domain.MutationResult{Queued: true, Entry: m.ID}, nil
}

// Apply replays one queued mutation with its original idempotency key and
// stores the bed the server returns.
func (s *BedService) Apply(ctx context.Context, m domain.PendingMutation) (*domain.Bed, error) {
	var (
		bed *domain.Bed
		err error
	)
	switch m.Kind {
	case domain.MutationBedStatus:
		var u domain.StatusUpdate
		if err = json.Unmarshal(m.Payload, &u); err == nil {
			bed, err = s.api.UpdateBedStatus(ctx, m.Target, u, m.IdempotencyKey)
		}
	case domain.MutationDischargeTime:
		var u domain.DischargeUpdate
		if err = json.Unmarshal(m.Payload, &u); err == nil {
			bed, err = s.api.SetDischargeTime(ctx, m.Target, u, m.IdempotencyKey)
		}
	case domain.MutationCleaningComplete:
		var c domain.CleaningComplete
		if err = json.Unmarshal(m.Payload, &c); err == nil {
			bed, err = s.api.MarkCleaningComplete(ctx, m.Target, c.Notes, m.IdempotencyKey)
		}
	default:
		return nil, &domain.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown mutation kind %q", m.Kind)}
	}
	if err != nil {
		return nil, err
	}
	s.connectivity.Set(true)
	if bed != nil {
		if err := s.store.UpsertBed(bed); err != nil && !errors.Is(err, domain.ErrStaleUpdate) {
			s.log.Warn("Replayed bed not stored", zap.String("bed_id", m.Target), zap.Error(err))
		}
	}
	return bed, nil
}

// CleaningQueue returns the beds awaiting cleaning in ward, in bed code order.
func (s *BedService) CleaningQueue(ctx context.Context, ward string) ([]*domain.Bed, error) {
	beds, err := s.api.CleaningQueue(ctx, ward)
	if err != nil {
		return nil, err
	}
	domain.SortBeds(beds)
	return beds, nil
}

// OccupiedBeds returns the occupied beds, in bed code order.
func (s *BedService) OccupiedBeds(ctx context.Context) ([]*domain.Bed, error) {
	beds, err := s.api.ListOccupiedBeds(ctx)
	if err != nil {
		return nil, err
	}
	domain.SortBeds(beds)
	return beds, nil
}
