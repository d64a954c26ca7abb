package service

import (
	"context"

	"presenced/internal/domain"
)

type PreferencesStore interface {
	Get(ctx context.Context, externalID int64) (domain.Preferences, error)
	Update(ctx context.Context, p domain.Preferences) error
}

// PrefsService fronts the preference store. Defaults materialize lazily in
// the store on first read; this layer only validates mutations.
type PrefsService struct {
	Store PreferencesStore
}

func (s *PrefsService) Get(ctx context.Context, externalID int64) (domain.Preferences, error) {
	return s.Store.Get(ctx, externalID)
}

func (s *PrefsService) Update(ctx context.Context, p domain.Preferences) error {
	if !validVisibility(p.Visibility) {
		return domain.NewValidationError(map[string]string{"visibilityMode": "unknown mode"})
	}
	return s.Store.Update(ctx, p)
}

// SetVisibility applies a login-supplied visibility override, keeping the
// stored sharing flags.
func (s *PrefsService) SetVisibility(ctx context.Context, externalID int64, mode domain.VisibilityMode) (domain.Preferences, error) {
	if !validVisibility(mode) {
		return domain.Preferences{}, domain.NewValidationError(map[string]string{"visibilityMode": "unknown mode"})
	}
	p, err := s.Store.Get(ctx, externalID)
	if err != nil {
		return domain.Preferences{}, err
	}
	if p.Visibility == mode {
		return p, nil
	}
	p.Visibility = mode
	if err := s.Store.Update(ctx, p); err != nil {
		return domain.Preferences{}, err
	}
	return p, nil
}

func validVisibility(mode domain.VisibilityMode) bool {
	switch mode {
	case domain.VisibilityEveryone, domain.VisibilityFollowers, domain.VisibilityFollowing,
		domain.VisibilityInvisible, domain.VisibilityCloseFriends:
		return true
	default:
		return false
	}
}
