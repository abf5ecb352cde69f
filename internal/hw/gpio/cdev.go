package gpio

import (
	"fmt"

	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/warthog618/go-gpiocdev"
)

const consumer = "winkgo"

// CdevDriver drives lines through the GPIO character device
// (/dev/gpiochipN). Works on any Linux board, not just the Pi.
type CdevDriver struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
	modes map[int]PinMode
}

// NewCdevDriver opens the named chip, e.g. "gpiochip0".
func NewCdevDriver(chipName string) (*CdevDriver, error) {
	if chipName == "" {
		chipName = "gpiochip0"
	}
	debug.Info("Initializing GPIO character device driver (%s)", chipName)

	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chipName, err)
	}
	return &CdevDriver{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
		modes: make(map[int]PinMode),
	}, nil
}

func (c *CdevDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	if old, ok := c.lines[pin]; ok {
		old.Close()
		delete(c.lines, pin)
	}

	var opts []gpiocdev.LineReqOption
	switch mode {
	case Input:
		opts = append(opts, gpiocdev.AsInput)
	case InputPullUp:
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithPullUp)
	case Output:
		opts = append(opts, gpiocdev.AsOutput(0))
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	line, err := c.chip.RequestLine(pin, opts...)
	if err != nil {
		return fmt.Errorf("failed to request GPIO line %d: %w", pin, err)
	}
	c.lines[pin] = line
	c.modes[pin] = mode
	return nil
}

func (c *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	line, ok := c.lines[pin]
	if !ok || c.modes[pin] != Output {
		if err := c.SetupPin(pin, Output); err != nil {
			return err
		}
		line = c.lines[pin]
	}

	val := 0
	if level == High {
		val = 1
	}
	if err := line.SetValue(val); err != nil {
		return fmt.Errorf("failed to set line %d=%v: %w", pin, level, err)
	}
	return nil
}

func (c *CdevDriver) ReadPin(pin int) (Level, error) {
	line, ok := c.lines[pin]
	if !ok {
		if err := c.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		line = c.lines[pin]
	}

	v, err := line.Value()
	if err != nil {
		return Low, fmt.Errorf("failed to read line %d: %w", pin, err)
	}
	return Level(v != 0), nil
}

func (c *CdevDriver) Close() error {
	debug.Trace("GPIO Close (cdev driver)")

	for pin, line := range c.lines {
		debug.Verbose("Releasing line %d", pin)
		line.Close()
	}
	return c.chip.Close()
}
