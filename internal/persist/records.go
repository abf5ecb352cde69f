// Package persist lays out the configuration and position records on a
// store.Store, validates them on load and heals what it can.
package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/cjeanneret/WinkGo/internal/store"
)

// Record magics.
const (
	ConfigMagic   uint32 = 0x57494E4B // "WINK"
	PositionMagic uint32 = 0x504F5331 // "POS1"
)

// Record offsets inside the store.
const (
	ConfigOffset   int64 = 0
	PositionOffset int64 = 128
)

// ErrBadMagic is returned by the decoders when a record does not start
// with the expected magic.
var ErrBadMagic = errors.New("persist: bad magic")

var byteOrder = binary.LittleEndian

type configRecord struct {
	Magic                uint32
	LeftStepPin          int32
	LeftDirPin           int32
	RightStepPin         int32
	RightDirPin          int32
	EnablePin            int32
	DetectPin            int32
	Actuators            int32
	MinPosition          int32
	MaxPosition          int32
	DefaultPositionLeft  int32
	DefaultPositionRight int32
	StepIntervalMs       int32
	MotorIdleTimeoutMs   int32
	BusFrameID           uint32
	BusByteOffset        int32
	BusOnValue           uint8
	BusOffValue          uint8
	_                    [2]byte
	AnimationCycles      int32
	AnimationDwellMs     int32
}

type positionRecord struct {
	Magic uint32
	Left  int32
	Right int32
}

var (
	configRecordSize   = binary.Size(configRecord{})
	positionRecordSize = binary.Size(positionRecord{})
)

// Position is the last known actuator position pair.
type Position struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// EncodeConfig returns the on-disk form of c.
func EncodeConfig(c Config) []byte {
	r := configRecord{
		Magic:                ConfigMagic,
		LeftStepPin:          int32(c.LeftStepPin),
		LeftDirPin:           int32(c.LeftDirPin),
		RightStepPin:         int32(c.RightStepPin),
		RightDirPin:          int32(c.RightDirPin),
		EnablePin:            int32(c.EnablePin),
		DetectPin:            int32(c.DetectPin),
		Actuators:            int32(c.Actuators),
		MinPosition:          int32(c.MinPosition),
		MaxPosition:          int32(c.MaxPosition),
		DefaultPositionLeft:  int32(c.DefaultPositionLeft),
		DefaultPositionRight: int32(c.DefaultPositionRight),
		StepIntervalMs:       int32(c.StepIntervalMs),
		MotorIdleTimeoutMs:   int32(c.MotorIdleTimeoutMs),
		BusFrameID:           c.BusFrameID,
		BusByteOffset:        int32(c.BusByteOffset),
		BusOnValue:           c.BusOnValue,
		BusOffValue:          c.BusOffValue,
		AnimationCycles:      int32(c.AnimationCycles),
		AnimationDwellMs:     int32(c.AnimationDwellMs),
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, byteOrder, &r)
	return buf.Bytes()
}

// DecodeConfig parses a configuration record. Field values are returned
// as stored; validation is left to Sanitize.
func DecodeConfig(b []byte) (Config, error) {
	var r configRecord
	if err := binary.Read(bytes.NewReader(b), byteOrder, &r); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if r.Magic != ConfigMagic {
		return Config{}, fmt.Errorf("config record 0x%08X: %w", r.Magic, ErrBadMagic)
	}
	return Config{
		LeftStepPin:          int(r.LeftStepPin),
		LeftDirPin:           int(r.LeftDirPin),
		RightStepPin:         int(r.RightStepPin),
		RightDirPin:          int(r.RightDirPin),
		EnablePin:            int(r.EnablePin),
		DetectPin:            int(r.DetectPin),
		Actuators:            int(r.Actuators),
		MinPosition:          int(r.MinPosition),
		MaxPosition:          int(r.MaxPosition),
		DefaultPositionLeft:  int(r.DefaultPositionLeft),
		DefaultPositionRight: int(r.DefaultPositionRight),
		StepIntervalMs:       int(r.StepIntervalMs),
		MotorIdleTimeoutMs:   int(r.MotorIdleTimeoutMs),
		BusFrameID:           r.BusFrameID,
		BusByteOffset:        int(r.BusByteOffset),
		BusOnValue:           r.BusOnValue,
		BusOffValue:          r.BusOffValue,
		AnimationCycles:      int(r.AnimationCycles),
		AnimationDwellMs:     int(r.AnimationDwellMs),
	}, nil
}

func EncodePosition(p Position) []byte {
	r := positionRecord{Magic: PositionMagic, Left: int32(p.Left), Right: int32(p.Right)}
	var buf bytes.Buffer
	_ = binary.Write(&buf, byteOrder, &r)
	return buf.Bytes()
}

func DecodePosition(b []byte) (Position, error) {
	var r positionRecord
	if err := binary.Read(bytes.NewReader(b), byteOrder, &r); err != nil {
		return Position{}, fmt.Errorf("decode position: %w", err)
	}
	if r.Magic != PositionMagic {
		return Position{}, fmt.Errorf("position record 0x%08X: %w", r.Magic, ErrBadMagic)
	}
	return Position{Left: int(r.Left), Right: int(r.Right)}, nil
}

// SaveConfig writes and commits the configuration record.
func SaveConfig(s store.Store, c Config) error {
	if _, err := s.WriteAt(EncodeConfig(c), ConfigOffset); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := s.Commit(); err != nil {
		return fmt.Errorf("commit config: %w", err)
	}
	return nil
}

// SavePosition writes and commits the position record.
func SavePosition(s store.Store, p Position) error {
	if _, err := s.WriteAt(EncodePosition(p), PositionOffset); err != nil {
		return fmt.Errorf("write position: %w", err)
	}
	if err := s.Commit(); err != nil {
		return fmt.Errorf("commit position: %w", err)
	}
	return nil
}

// LoadConfig reads the configuration record. A missing or corrupted
// record yields the defaults; invalid fields are reset one by one. In
// both cases the healed record is written back and healed is true. The
// returned Config is always usable, even when err is non-nil.
func LoadConfig(s store.Store) (cfg Config, healed bool, err error) {
	buf := make([]byte, configRecordSize)
	if _, rerr := s.ReadAt(buf, ConfigOffset); rerr != nil {
		if !errors.Is(rerr, store.ErrShortRead) {
			return DefaultConfig(), false, fmt.Errorf("read config: %w", rerr)
		}
		debug.Info("No configuration record, using defaults")
		cfg = DefaultConfig()
		return cfg, true, SaveConfig(s, cfg)
	}

	cfg, derr := DecodeConfig(buf)
	if derr != nil {
		debug.Warn("Configuration record rejected: %v", derr)
		cfg = DefaultConfig()
		return cfg, true, SaveConfig(s, cfg)
	}

	if fixed := cfg.Sanitize(); len(fixed) > 0 {
		debug.Warn("Configuration healed, reset fields: %v", fixed)
		return cfg, true, SaveConfig(s, cfg)
	}
	return cfg, false, nil
}

// LoadPosition reads the position record and validates it against the
// travel bounds of cfg. A bad magic or any out-of-range value rejects the
// whole record: both actuators go back to their default positions and
// the record is rewritten.
func LoadPosition(s store.Store, cfg Config) (pos Position, healed bool, err error) {
	defaults := Position{Left: cfg.DefaultPositionLeft, Right: cfg.DefaultPositionRight}

	buf := make([]byte, positionRecordSize)
	if _, rerr := s.ReadAt(buf, PositionOffset); rerr != nil {
		if !errors.Is(rerr, store.ErrShortRead) {
			return defaults, false, fmt.Errorf("read position: %w", rerr)
		}
		debug.Info("No position record, using defaults %d/%d", defaults.Left, defaults.Right)
		return defaults, true, SavePosition(s, defaults)
	}

	pos, derr := DecodePosition(buf)
	if derr != nil {
		debug.Warn("Position record rejected: %v", derr)
		return defaults, true, SavePosition(s, defaults)
	}
	if !inRange(pos.Left, cfg.MinPosition, cfg.MaxPosition) || !inRange(pos.Right, cfg.MinPosition, cfg.MaxPosition) {
		debug.Warn("Position record %d/%d outside [%d, %d], resetting", pos.Left, pos.Right, cfg.MinPosition, cfg.MaxPosition)
		return defaults, true, SavePosition(s, defaults)
	}
	return pos, false, nil
}
