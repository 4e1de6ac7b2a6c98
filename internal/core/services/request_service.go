package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// RequestService handles emergency bed requests: ER staff create them, ward
// managers approve or reject them.
type RequestService struct {
	api   ports.RequestAPI
	store *StateStore
	log   *zap.Logger
}

func NewRequestService(api ports.RequestAPI, store *StateStore, log *zap.Logger) *RequestService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RequestService{api: api, store: store, log: log}
}

func (s *RequestService) Create(ctx context.Context, r domain.NewEmergencyRequest) (*domain.EmergencyRequest, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(func() (*domain.EmergencyRequest, error) {
		return s.api.CreateEmergencyRequest(ctx, r, uuid.NewString())
	})
}

func (s *RequestService) Approve(ctx context.Context, id, bedID string) (*domain.EmergencyRequest, error) {
	if id == "" {
		return nil, &domain.ValidationError{Field: "id", Message: "request id is required"}
	}
	if bedID == "" {
		return nil, &domain.ValidationError{Field: "bedId", Message: "a bed must be chosen to approve a request"}
	}
	return s.mutate(func() (*domain.EmergencyRequest, error) {
		return s.api.ApproveEmergencyRequest(ctx, id, bedID)
	})
}

func (s *RequestService) Reject(ctx context.Context, id, reason string) (*domain.EmergencyRequest, error) {
	if id == "" {
		return nil, &domain.ValidationError{Field: "id", Message: "request id is required"}
	}
	if reason == "" {
		return nil, &domain.ValidationError{Field: "reason", Message: "a rejection reason is required"}
	}
	return s.mutate(func() (*domain.EmergencyRequest, error) {
		return s.api.RejectEmergencyRequest(ctx, id, reason)
	})
}

func (s *RequestService) UpdateStatus(ctx context.Context, id string, status domain.RequestStatus) (*domain.EmergencyRequest, error) {
	switch status {
	case domain.RequestPending, domain.RequestApproved, domain.RequestRejected:
	default:
		return nil, &domain.ValidationError{Field: "status", Message: "status must be pending, approved or rejected"}
	}
	return s.mutate(func() (*domain.EmergencyRequest, error) {
		return s.api.UpdateEmergencyRequestStatus(ctx, id, status)
	})
}

func (s *RequestService) mutate(call func() (*domain.EmergencyRequest, error)) (*domain.EmergencyRequest, error) {
	s.store.BeginMutate(CollectionRequests)
	req, err := call()
	if err != nil {
		s.store.MutateFailed(CollectionRequests, err)
		return nil, err
	}
	s.store.MutateSucceeded(CollectionRequests)
	if err := s.store.UpsertRequest(req); err != nil && !errors.Is(err, domain.ErrStaleUpdate) {
		s.log.Warn("Request not stored", zap.Error(err))
	}
	return req, nil
}

// BookBeds creates several requests independently. Every item gets a result;
// failed items are also returned on their own so the caller can retry just
// those.
func (s *RequestService) BookBeds(ctx context.Context, items []domain.NewEmergencyRequest) ([]domain.BatchResult, []domain.NewEmergencyRequest) {
	results := make([]domain.BatchResult, 0, len(items))
	var failed []domain.NewEmergencyRequest
	for i, item := range items {
		req, err := s.Create(ctx, item)
		res := domain.BatchResult{Index: i, Request: req, Err: err}
		if err != nil {
			res.Message = domain.UserMessage(err)
			failed = append(failed, item)
			s.log.Warn("Booking failed",
				zap.Int("index", i),
				zap.String("ward", item.Ward),
				zap.Error(err),
			)
		}
		results = append(results, res)
	}
	return results, failed
}
