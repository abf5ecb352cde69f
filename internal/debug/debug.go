package debug

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (transitions, config, startup)
	LevelLive    = 2 // Live info (moves, waypoints, commands)
	LevelVerbose = 3 // Verbose (per-step details, persistence)
	LevelTrace   = 4 // Trace (GPIO, frames, very low level)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger           = zap.NewNop()
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (headlight transitions, config healing, startup)
// 2 = live info (moves, animation waypoints, commands)
// 3 = verbose (steps, persistence flushes)
// 4 = trace (GPIO, bus frames)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	rebuild()
}

// SetOutput redirects log output, e.g. to tee it into the status stream.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// rebuild must be called with mu held.
func rebuild() {
	if level <= LevelOff {
		logger = zap.NewNop()
		return
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05.000000")
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(out),
		zapcore.DebugLevel,
	)
	logger = zap.New(core).Named("WinkGo")
}

// Logger returns the underlying structured logger for components that
// want typed fields (carriers, HTTP middleware).
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

func emit(minLevel int, lvl zapcore.Level, tag, format string, args ...interface{}) {
	mu.RLock()
	l, on := logger, level >= minLevel
	mu.RUnlock()
	if !on {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if tag != "" {
		msg = "[" + tag + "] " + msg
	}
	if ce := l.Check(lvl, msg); ce != nil {
		ce.Write()
	}
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	emit(LevelInfo, zapcore.InfoLevel, "", format, args...)
}

// Warn prints a level 1 warning.
func Warn(format string, args ...interface{}) {
	emit(LevelInfo, zapcore.WarnLevel, "", format, args...)
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	emit(LevelInfo, zapcore.InfoLevel, "", "  %s = %v", name, value)
}

// Transition prints a headlight transition (level 1).
func Transition(on bool, source string) {
	state := "OFF"
	if on {
		state = "ON"
	}
	emit(LevelInfo, zapcore.InfoLevel, "", "Headlights %s (%s)", state, source)
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	emit(LevelLive, zapcore.InfoLevel, "LIVE", format, args...)
}

// Move prints a motor movement (level 2).
func Move(motor string, steps int, direction string) {
	emit(LevelLive, zapcore.InfoLevel, "LIVE", "Motor %s: %d steps (%s)", motor, steps, direction)
}

// Waypoint prints an animation waypoint (level 2).
func Waypoint(name string, cycle, totalCycles int) {
	emit(LevelLive, zapcore.InfoLevel, "LIVE", "Animation waypoint %s (cycle %d/%d)", name, cycle, totalCycles)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	emit(LevelVerbose, zapcore.DebugLevel, "VERBOSE", format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	emit(LevelVerbose, zapcore.DebugLevel, "VERBOSE", "%s: %+v", name, v)
}

// Step prints a numbered startup step (level 3).
func Step(num int, description string) {
	emit(LevelVerbose, zapcore.DebugLevel, "VERBOSE", "Step %d: %s", num, description)
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	emit(LevelTrace, zapcore.DebugLevel, "TRACE", format, args...)
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	emit(LevelTrace, zapcore.DebugLevel, "GPIO", "%s pin=%d value=%v", operation, pin, value)
}

// Frame prints a received bus frame (level 4).
func Frame(id uint32, data []byte) {
	emit(LevelTrace, zapcore.DebugLevel, "BUS", "id=0x%X data=% X", id, data)
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	emit(LevelInfo, zapcore.ErrorLevel, "", "%v", err)
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger().Sync()
}
