package persist

import "time"

// Validity ranges for Configuration fields.
const (
	MaxPin            = 53
	MaxTravel         = 10000
	MinStepIntervalMs = 1
	MaxStepIntervalMs = 1000
	MinIdleTimeoutMs  = 500
	MaxIdleTimeoutMs  = 20000
	MaxFrameID        = 0x1FFFFFFF
	MaxByteOffset     = 7
	MinCycles         = 1
	MaxCycles         = 10
	MinDwellMs        = 100
	MaxDwellMs        = 10000
)

// Config is the motion configuration: loaded once at boot, mutable by
// command, persisted on change.
type Config struct {
	LeftStepPin  int `json:"leftStepPin"`
	LeftDirPin   int `json:"leftDirPin"`
	RightStepPin int `json:"rightStepPin"`
	RightDirPin  int `json:"rightDirPin"`
	EnablePin    int `json:"enablePin"`
	DetectPin    int `json:"detectPin"`
	Actuators    int `json:"actuators"`

	MinPosition          int `json:"minPosition"`
	MaxPosition          int `json:"maxPosition"`
	DefaultPositionLeft  int `json:"defaultPositionLeft"`
	DefaultPositionRight int `json:"defaultPositionRight"`

	StepIntervalMs     int `json:"stepIntervalMs"`
	MotorIdleTimeoutMs int `json:"motorIdleTimeoutMs"`

	BusFrameID    uint32 `json:"busFrameId"`
	BusByteOffset int    `json:"busByteOffset"`
	BusOnValue    byte   `json:"busOnValue"`
	BusOffValue   byte   `json:"busOffValue"`

	AnimationCycles  int `json:"animationCycles"`
	AnimationDwellMs int `json:"animationDwellMs"`
}

// DefaultConfig returns the compiled-in configuration.
func DefaultConfig() Config {
	return Config{
		LeftStepPin:          17,
		LeftDirPin:           27,
		RightStepPin:         22,
		RightDirPin:          23,
		EnablePin:            24,
		DetectPin:            25,
		Actuators:            2,
		MinPosition:          0,
		MaxPosition:          320,
		DefaultPositionLeft:  160,
		DefaultPositionRight: 160,
		StepIntervalMs:       3,
		MotorIdleTimeoutMs:   5000,
		BusFrameID:           0x3F5,
		BusByteOffset:        0,
		BusOnValue:           0x01,
		BusOffValue:          0x00,
		AnimationCycles:      1,
		AnimationDwellMs:     1000,
	}
}

func (c Config) StepInterval() time.Duration {
	return time.Duration(c.StepIntervalMs) * time.Millisecond
}

func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.MotorIdleTimeoutMs) * time.Millisecond
}

func (c Config) AnimationDwell() time.Duration {
	return time.Duration(c.AnimationDwellMs) * time.Millisecond
}

func inRange(v, lo, hi int) bool {
	return v >= lo && v <= hi
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Sanitize replaces every invalid field by its compiled default, then
// repairs cross-field rules. It returns the names of the fields it reset.
func (c *Config) Sanitize() []string {
	d := DefaultConfig()
	var fixed []string
	reset := func(name string, ok bool, apply func()) {
		if !ok {
			apply()
			fixed = append(fixed, name)
		}
	}

	for _, p := range []struct {
		name string
		v    *int
		def  int
	}{
		{"leftStepPin", &c.LeftStepPin, d.LeftStepPin},
		{"leftDirPin", &c.LeftDirPin, d.LeftDirPin},
		{"rightStepPin", &c.RightStepPin, d.RightStepPin},
		{"rightDirPin", &c.RightDirPin, d.RightDirPin},
		{"enablePin", &c.EnablePin, d.EnablePin},
		{"detectPin", &c.DetectPin, d.DetectPin},
	} {
		p := p
		reset(p.name, inRange(*p.v, 0, MaxPin), func() { *p.v = p.def })
	}

	reset("actuators", c.Actuators == 1 || c.Actuators == 2, func() { c.Actuators = d.Actuators })
	reset("minPosition", inRange(c.MinPosition, 0, MaxTravel), func() { c.MinPosition = d.MinPosition })
	reset("maxPosition", inRange(c.MaxPosition, 0, MaxTravel), func() { c.MaxPosition = d.MaxPosition })
	if c.MinPosition >= c.MaxPosition {
		c.MinPosition, c.MaxPosition = d.MinPosition, d.MaxPosition
		fixed = append(fixed, "minPosition", "maxPosition")
	}
	reset("defaultPositionLeft", inRange(c.DefaultPositionLeft, c.MinPosition, c.MaxPosition), func() {
		c.DefaultPositionLeft = clamp(d.DefaultPositionLeft, c.MinPosition, c.MaxPosition)
	})
	reset("defaultPositionRight", inRange(c.DefaultPositionRight, c.MinPosition, c.MaxPosition), func() {
		c.DefaultPositionRight = clamp(d.DefaultPositionRight, c.MinPosition, c.MaxPosition)
	})

	reset("stepIntervalMs", inRange(c.StepIntervalMs, MinStepIntervalMs, MaxStepIntervalMs), func() { c.StepIntervalMs = d.StepIntervalMs })
	reset("motorIdleTimeoutMs", inRange(c.MotorIdleTimeoutMs, MinIdleTimeoutMs, MaxIdleTimeoutMs), func() { c.MotorIdleTimeoutMs = d.MotorIdleTimeoutMs })

	reset("busFrameId", c.BusFrameID <= MaxFrameID, func() { c.BusFrameID = d.BusFrameID })
	reset("busByteOffset", inRange(c.BusByteOffset, 0, MaxByteOffset), func() { c.BusByteOffset = d.BusByteOffset })
	if c.BusOnValue == c.BusOffValue {
		c.BusOnValue, c.BusOffValue = d.BusOnValue, d.BusOffValue
		fixed = append(fixed, "busOnValue", "busOffValue")
	}

	reset("animationCycles", inRange(c.AnimationCycles, MinCycles, MaxCycles), func() { c.AnimationCycles = d.AnimationCycles })
	reset("animationDwellMs", inRange(c.AnimationDwellMs, MinDwellMs, MaxDwellMs), func() { c.AnimationDwellMs = d.AnimationDwellMs })

	return fixed
}

// Patch carries a partial configuration update. Nil fields are left alone.
type Patch struct {
	LeftStepPin          *int    `json:"leftStepPin,omitempty"`
	LeftDirPin           *int    `json:"leftDirPin,omitempty"`
	RightStepPin         *int    `json:"rightStepPin,omitempty"`
	RightDirPin          *int    `json:"rightDirPin,omitempty"`
	EnablePin            *int    `json:"enablePin,omitempty"`
	DetectPin            *int    `json:"detectPin,omitempty"`
	Actuators            *int    `json:"actuators,omitempty"`
	MinPosition          *int    `json:"minPosition,omitempty"`
	MaxPosition          *int    `json:"maxPosition,omitempty"`
	DefaultPositionLeft  *int    `json:"defaultPositionLeft,omitempty"`
	DefaultPositionRight *int    `json:"defaultPositionRight,omitempty"`
	StepIntervalMs       *int    `json:"stepIntervalMs,omitempty"`
	MotorIdleTimeoutMs   *int    `json:"motorIdleTimeoutMs,omitempty"`
	BusFrameID           *uint32 `json:"busFrameId,omitempty"`
	BusByteOffset        *int    `json:"busByteOffset,omitempty"`
	BusOnValue           *int    `json:"busOnValue,omitempty"`
	BusOffValue          *int    `json:"busOffValue,omitempty"`
	AnimationCycles      *int    `json:"animationCycles,omitempty"`
	AnimationDwellMs     *int    `json:"animationDwellMs,omitempty"`
}

// Empty reports whether the patch sets nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// Apply returns c updated with the patch. Out-of-range values are clamped
// to the nearest valid bound rather than rejected; defaults are pulled
// inside the (possibly new) travel bounds.
func (c Config) Apply(p Patch) Config {
	setPin := func(dst *int, v *int) {
		if v != nil {
			*dst = clamp(*v, 0, MaxPin)
		}
	}
	setPin(&c.LeftStepPin, p.LeftStepPin)
	setPin(&c.LeftDirPin, p.LeftDirPin)
	setPin(&c.RightStepPin, p.RightStepPin)
	setPin(&c.RightDirPin, p.RightDirPin)
	setPin(&c.EnablePin, p.EnablePin)
	setPin(&c.DetectPin, p.DetectPin)

	if p.Actuators != nil {
		c.Actuators = clamp(*p.Actuators, 1, 2)
	}
	if p.MinPosition != nil {
		c.MinPosition = clamp(*p.MinPosition, 0, MaxTravel-1)
	}
	if p.MaxPosition != nil {
		c.MaxPosition = clamp(*p.MaxPosition, 1, MaxTravel)
	}
	if c.MaxPosition <= c.MinPosition {
		if p.MaxPosition != nil && p.MinPosition == nil {
			c.MinPosition = c.MaxPosition - 1
		} else {
			c.MaxPosition = c.MinPosition + 1
		}
	}
	if p.DefaultPositionLeft != nil {
		c.DefaultPositionLeft = *p.DefaultPositionLeft
	}
	if p.DefaultPositionRight != nil {
		c.DefaultPositionRight = *p.DefaultPositionRight
	}
	c.DefaultPositionLeft = clamp(c.DefaultPositionLeft, c.MinPosition, c.MaxPosition)
	c.DefaultPositionRight = clamp(c.DefaultPositionRight, c.MinPosition, c.MaxPosition)

	if p.StepIntervalMs != nil {
		c.StepIntervalMs = clamp(*p.StepIntervalMs, MinStepIntervalMs, MaxStepIntervalMs)
	}
	if p.MotorIdleTimeoutMs != nil {
		c.MotorIdleTimeoutMs = clamp(*p.MotorIdleTimeoutMs, MinIdleTimeoutMs, MaxIdleTimeoutMs)
	}
	if p.BusFrameID != nil {
		c.BusFrameID = *p.BusFrameID
		if c.BusFrameID > MaxFrameID {
			c.BusFrameID = MaxFrameID
		}
	}
	if p.BusByteOffset != nil {
		c.BusByteOffset = clamp(*p.BusByteOffset, 0, MaxByteOffset)
	}
	if p.BusOnValue != nil {
		c.BusOnValue = byte(clamp(*p.BusOnValue, 0, 255))
	}
	if p.BusOffValue != nil {
		c.BusOffValue = byte(clamp(*p.BusOffValue, 0, 255))
	}
	if p.AnimationCycles != nil {
		c.AnimationCycles = clamp(*p.AnimationCycles, MinCycles, MaxCycles)
	}
	if p.AnimationDwellMs != nil {
		c.AnimationDwellMs = clamp(*p.AnimationDwellMs, MinDwellMs, MaxDwellMs)
	}
	return c
}
