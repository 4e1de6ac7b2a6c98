package services

import (
	"context"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

type AlertService struct {
	api   ports.AlertAPI
	store *StateStore
}

func NewAlertService(api ports.AlertAPI, store *StateStore) *AlertService {
	return &AlertService{api: api, store: store}
}

// Dismiss removes the alert locally only after the server confirmed it.
func (s *AlertService) Dismiss(ctx context.Context, id string) error {
	if id == "" {
		return &domain.ValidationError{Field: "id", Message: "alert id is required"}
	}
	s.store.BeginMutate(CollectionAlerts)
	if err := s.api.DismissAlert(ctx, id); err != nil {
		s.store.MutateFailed(CollectionAlerts, err)
		return err
	}
	s.store.MutateSucceeded(CollectionAlerts)
	s.store.RemoveAlert(id)
	return nil
}
