package speech

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Direction selects the translation target.
type Direction int32

const (
	ToVietnamese Direction = iota
	ToEnglish
)

// Target returns the language code translated text is produced in.
func (d Direction) Target() string {
	if d == ToEnglish {
		return "en"
	}
	return "vi"
}

func (d Direction) String() string {
	if d == ToEnglish {
		return "to_en"
	}
	return "to_vi"
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "to_vi", "vi":
		*d = ToVietnamese
	case "to_en", "en":
		*d = ToEnglish
	default:
		return fmt.Errorf("unknown direction %q", string(b))
	}
	return nil
}

// Settings are read by the worker per item and written by the controller.
// Each field is stored separately so no read ever observes a torn value.
type Settings struct {
	enabled   atomic.Bool
	translate atomic.Bool
	direction atomic.Int32
	volume    atomic.Uint64 // math.Float64bits
}

// SettingsSnapshot is a point-in-time copy of Settings.
type SettingsSnapshot struct {
	Enabled          bool      `json:"enabled"`
	TranslateEnabled bool      `json:"translate_enabled"`
	Direction        Direction `json:"direction"`
	Volume           float64   `json:"volume"`
}

// NewSettings returns disabled settings at full volume translating to
// Vietnamese.
func NewSettings() *Settings {
	s := &Settings{}
	s.SetVolume(1)
	return s
}

func (s *Settings) Enabled() bool { return s.enabled.Load() }
func (s *Settings) SetEnabled(v bool) { s.enabled.Store(v) }
func (s *Settings) TranslateEnabled() bool { return s.translate.Load() }
func (s *Settings) SetTranslateEnabled(v bool) { s.translate.Store(v) }
func (s *Settings) Direction() Direction { return Direction(s.direction.Load()) }
func (s *Settings) SetDirection(d Direction) { s.direction.Store(int32(d)) }

// Volume returns the playback volume in [0,1].
func (s *Settings) Volume() float64 { return math.Float64frombits(s.volume.Load()) }

// SetVolume clamps v to [0,1].
func (s *Settings) SetVolume(v float64) {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.volume.Store(math.Float64bits(v))
}

// SetVolumePercent sets the volume from a 0..100 slider value.
func (s *Settings) SetVolumePercent(p int) {
	s.SetVolume(float64(p) / 100)
}

func (s *Settings) Snapshot() SettingsSnapshot {
	return SettingsSnapshot{
		Enabled:          s.Enabled(),
		TranslateEnabled: s.TranslateEnabled(),
		Direction:        s.Direction(),
		Volume:           s.Volume(),
	}
}

// Apply stores every field of snap.
func (s *Settings) Apply(snap SettingsSnapshot) {
	s.SetEnabled(snap.Enabled)
	s.SetTranslateEnabled(snap.TranslateEnabled)
	s.SetDirection(snap.Direction)
	s.SetVolume(snap.Volume)
}
