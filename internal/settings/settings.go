package settings

import (
	"context"
	"sync"

	"codeberg.org/mutker/pulsecore/internal/errors"
	"codeberg.org/mutker/pulsecore/internal/logger"
	"codeberg.org/mutker/pulsecore/internal/validation"
)

const (
	ErrInvalidSettings = errors.ErrorCode("settings_invalid")
	ErrLoadSettings    = errors.ErrorCode("settings_load_failed")
	ErrSaveSettings    = errors.ErrorCode("settings_save_failed")
)

// Service owns the in-memory copy of settings and the operating mode.
type Service struct {
	repo Repository
	log  logger.Logger

	mu       sync.RWMutex
	settings AppSettings
	mode     Mode
}

func NewService(repo Repository, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		log:      log.With("settings"),
		settings: Defaults(),
	}
}

// Load reads the stored settings, writing defaults on first run.
func (s *Service) Load(ctx context.Context) error {
	errFactory := errors.New()

	stored, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return errFactory.Wrap(ErrLoadSettings, err)
	}

	if stored == nil {
		defaults := Defaults()
		if err := s.repo.SaveSettings(ctx, defaults); err != nil {
			return errFactory.Wrap(ErrSaveSettings, err)
		}
		s.log.Info().Msg("Settings initialized with defaults")
		stored = &defaults
	}

	s.mu.Lock()
	s.settings = *stored
	if stored.StartInLowPower {
		s.mode = ModeLowPower
	}
	s.mu.Unlock()

	return nil
}

// Get returns a copy of the current settings.
func (s *Service) Get() AppSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Set validates, persists and then publishes next. Last writer wins.
func (s *Service) Set(ctx context.Context, next AppSettings) error {
	if err := Validate(next); err != nil {
		return err
	}

	// Hold the lock across the write so memory and storage agree on the winner
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.SaveSettings(ctx, next); err != nil {
		return errors.New().Wrap(ErrSaveSettings, err)
	}
	s.settings = next

	s.log.Debug().
		Uint64("refresh_rate_ms", next.RefreshRateMs).
		Uint64("low_power_rate_ms", next.LowPowerRateMs).
		Int("history_retention_days", next.HistoryRetentionDays).
		Msg("Settings updated")

	return nil
}

// ParseMode accepts the names produced by Mode.String.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "normal":
		return ModeNormal, nil
	case "low_power":
		return ModeLowPower, nil
	}
	return ModeNormal, errors.New().WithData(ErrInvalidSettings, "unknown mode "+name)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

func (s *Service) SetMode(mode Mode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()

	s.log.Info().Str("mode", mode.String()).Msg("Mode changed")
}

func (s *Service) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// View returns mode and settings read under one lock.
func (s *Service) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{Mode: s.mode, Settings: s.settings}
}

// Validate rejects settings the rest of the system cannot act on.
func Validate(s AppSettings) error {
	if problems := validation.Struct(s); problems != nil {
		return errors.New().WithData(ErrInvalidSettings, problems)
	}

	return nil
}
