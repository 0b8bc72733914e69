package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/settings"
	"retailpos/backend/internal/store"
)

// GetSettings returns stored settings merged over the configured defaults.
func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	return s.currentSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsUpdateRequest) (domain.Settings, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Settings{}, err
	}
	current, err := s.currentSettings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}

	updated := settings.Apply(current, req)
	if err := settings.Validate(updated); err != nil {
		return domain.Settings{}, fmt.Errorf("%w: %v", store.ErrInvalidTransaction, err)
	}
	if err := s.repo.SaveSettings(ctx, settings.ToMap(updated)); err != nil {
		return domain.Settings{}, err
	}

	s.invalidate()
	s.logAudit(ctx, "settings_update", "settings", "store", changedKeys(current, updated))
	return updated, nil
}

// changedKeys lists the setting keys whose persisted value differs.
func changedKeys(before domain.Settings, after domain.Settings) string {
	old := settings.ToMap(before)
	keys := make([]string, 0, 4)
	for key, value := range settings.ToMap(after) {
		if old[key] != value {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return "unchanged"
	}
	slices.Sort(keys)
	return strings.Join(keys, ",")
}
