package service

import (
	"context"
	"errors"
	"fmt"

	"pak-finance/internal/ledger"
	"pak-finance/internal/notify"
	"pak-finance/internal/repo"
)

// Register creates a profile and opens a session for it.
func (s *Service) Register(ctx context.Context, reg ledger.Registration) (ledger.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, user, err := s.engine.RegisterUser(s.state, reg)
	if err != nil {
		s.rejected("register")
		return ledger.UserProfile{}, fmt.Errorf("register user: %w", err)
	}
	if err := s.commit(ctx, next, RecordUsers); err != nil {
		return ledger.UserProfile{}, err
	}
	s.session = user.Phone
	s.logger.Info("user registered", "phone", user.Phone, "referral_code", user.ReferralCode, "referred_by", user.ReferredBy)
	s.notify(ctx, user.Phone, notify.KindSuccess, "Registration complete, welcome bonus "+rupees(user.WalletBalance)+" added")
	return user, nil
}

// Login opens a session for an existing phone.
func (s *Service) Login(ctx context.Context, phone string) (ledger.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.userLocked(phone); err != nil {
		s.rejected("login")
		return ledger.UserProfile{}, err
	}
	next, err := s.engine.TouchActivity(s.state, phone)
	if err != nil {
		return ledger.UserProfile{}, fmt.Errorf("touch activity: %w", err)
	}
	if err := s.commit(ctx, next, RecordUsers); err != nil {
		return ledger.UserProfile{}, err
	}
	s.session = phone
	s.logger.Info("user logged in", "phone", phone)
	u, _ := s.state.User(phone)
	return u.Clone(), nil
}

// Logout closes the session.
func (s *Service) Logout(ctx context.Context) {
	s.mu.Lock()
	phone := s.session
	s.session = ""
	s.mu.Unlock()

	if phone == "" {
		return
	}
	s.logger.Info("user logged out", "phone", phone)
	s.notify(ctx, phone, notify.KindInfo, "Logged out successfully")
}

// Session returns the logged-in profile as currently stored.
func (s *Service) Session() (ledger.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == "" {
		return ledger.UserProfile{}, ErrNotLoggedIn
	}
	u, ok := s.state.User(s.session)
	if !ok {
		// The profile was removed or re-keyed elsewhere.
		s.session = ""
		return ledger.UserProfile{}, ErrNotLoggedIn
	}
	return u.Clone(), nil
}

// SessionPhone returns the phone of the logged-in user, if any.
func (s *Service) SessionPhone() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// RequireAdmin returns the session profile when it holds the admin role.
func (s *Service) RequireAdmin() (ledger.UserProfile, error) {
	u, err := s.Session()
	if err != nil {
		return ledger.UserProfile{}, err
	}
	if !u.IsAdmin {
		return ledger.UserProfile{}, ErrForbidden
	}
	return u, nil
}

// UpdateProfile edits the profile fields in patch. The session follows a
// phone change.
func (s *Service) UpdateProfile(ctx context.Context, phone string, patch ledger.ProfilePatch) (ledger.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, user, err := s.engine.UpdateProfile(s.state, phone, patch)
	if err != nil {
		s.rejected("update_profile")
		return ledger.UserProfile{}, fmt.Errorf("update profile: %w", err)
	}
	records := []string{RecordUsers}
	if user.Phone != phone {
		records = append(records, RecordRequests)
	}
	if err := s.commit(ctx, next, records...); err != nil {
		return ledger.UserProfile{}, err
	}
	if s.session == phone {
		s.session = user.Phone
	}
	s.notify(ctx, user.Phone, notify.KindSuccess, "Profile updated successfully")
	return user, nil
}

// Touch records activity for phone.
func (s *Service) Touch(ctx context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.engine.TouchActivity(s.state, phone)
	if err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	return s.commit(ctx, next, RecordUsers)
}

// Heartbeat touches the session user. It is a no-op without a session.
func (s *Service) Heartbeat(ctx context.Context) error {
	phone := s.SessionPhone()
	if phone == "" {
		return nil
	}
	err := s.Touch(ctx, phone)
	if errors.Is(err, ledger.ErrUserNotFound) {
		return nil
	}
	return err
}

// User returns the stored profile for phone.
func (s *Service) User(phone string) (ledger.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.userLocked(phone)
	if err != nil {
		return ledger.UserProfile{}, err
	}
	return u.Clone(), nil
}

// Users returns every profile.
func (s *Service) Users() []ledger.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone().Users
}

// SetAdmin grants or revokes the admin role.
func (s *Service) SetAdmin(ctx context.Context, phone string, admin bool) (ledger.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, user, err := s.engine.SetAdmin(s.state, phone, admin)
	if err != nil {
		return ledger.UserProfile{}, fmt.Errorf("set admin: %w", err)
	}
	if err := s.commit(ctx, next, RecordUsers); err != nil {
		return ledger.UserProfile{}, err
	}
	s.logger.Info("admin role changed", "phone", phone, "admin", admin)
	return user, nil
}

// Settings returns the current settings.
func (s *Service) Settings() ledger.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Settings
}

// UpdateSettings validates and stores settings.
func (s *Service) UpdateSettings(ctx context.Context, settings ledger.Settings) (ledger.Settings, error) {
	if err := settings.Validate(); err != nil {
		s.rejected("update_settings")
		return ledger.Settings{}, fmt.Errorf("update settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	next.Settings = settings
	if err := s.commit(ctx, next, RecordSettings); err != nil {
		return ledger.Settings{}, err
	}
	s.logger.Info("settings updated")
	s.notify(ctx, "", notify.KindSuccess, "Settings saved")
	return settings, nil
}

// History lists stored versions of a record, newest first.
func (s *Service) History(ctx context.Context, name string, limit int) ([]repo.Record, error) {
	switch name {
	case RecordUsers, RecordRequests, RecordSettings:
	default:
		return nil, fmt.Errorf("history %s: %w", name, repo.ErrRecordNotFound)
	}
	records, err := s.store.History(ctx, name, limit)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", name, err)
	}
	return records, nil
}
