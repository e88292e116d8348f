package settings

import "context"

// Repository persists the single settings record.
type Repository interface {
	LoadSettings(ctx context.Context) (*AppSettings, error)
	SaveSettings(ctx context.Context, s AppSettings) error
}

// AppSettings holds user preferences. It is stored as one JSON blob and
// always overwritten in full.
type AppSettings struct {
	RefreshRateMs        uint64 `json:"refresh_rate_ms" validate:"min=1"`
	LowPowerRateMs       uint64 `json:"low_power_rate_ms" validate:"min=1"`
	HistoryRetentionDays int    `json:"history_retention_days" validate:"min=1"`
	PingTarget           string `json:"ping_target"`
	PingCount            int    `json:"ping_count" validate:"min=1,max=20"`
	SpeedTestEndpoint    string `json:"speed_test_endpoint"`
	OverlayEnabled       bool   `json:"overlay_enabled"`
	StartInLowPower      bool   `json:"start_in_low_power"`
}

// Mode selects the sampling cadence.
type Mode int32

const (
	ModeNormal Mode = iota
	ModeLowPower
)

func (m Mode) String() string {
	if m == ModeLowPower {
		return "low_power"
	}

	return "normal"
}

// View is a consistent, read-only copy of mode and settings taken at one
// instant.
type View struct {
	Mode     Mode        `json:"mode"`
	Settings AppSettings `json:"settings"`
}

// Defaults returns the settings written on first run.
func Defaults() AppSettings {
	return AppSettings{
		RefreshRateMs:        1000,
		LowPowerRateMs:       5000,
		HistoryRetentionDays: 30,
		PingTarget:           "1.1.1.1",
		PingCount:            4,
	}
}
