package persist

import (
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/WinkGo/internal/store"
)

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	if fixed := c.Sanitize(); len(fixed) != 0 {
		t.Fatalf("defaults should be valid, reset %v", fixed)
	}
	if c.StepInterval() != 3*time.Millisecond {
		t.Errorf("StepInterval = %v", c.StepInterval())
	}
	if c.IdleTimeout() != 5*time.Second {
		t.Errorf("IdleTimeout = %v", c.IdleTimeout())
	}
}

func TestConfigRoundTrip(t *testing.T) {
	c := DefaultConfig()
	c.MaxPosition = 900
	c.BusFrameID = 0x1ABCDEF0
	c.BusOnValue = 0x7F
	c.AnimationCycles = 4

	got, err := DecodeConfig(EncodeConfig(c))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if got != c {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, c)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	b := EncodeConfig(DefaultConfig())
	b[0] ^= 0xFF
	if _, err := DecodeConfig(b); !errors.Is(err, ErrBadMagic) {
		t.Errorf("DecodeConfig err = %v, want ErrBadMagic", err)
	}

	p := EncodePosition(Position{Left: 1, Right: 2})
	p[3] = 0
	if _, err := DecodePosition(p); !errors.Is(err, ErrBadMagic) {
		t.Errorf("DecodePosition err = %v, want ErrBadMagic", err)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		check  func(Config) bool
		fields []string
	}{
		{
			name:   "pin out of range",
			mutate: func(c *Config) { c.EnablePin = 99 },
			check:  func(c Config) bool { return c.EnablePin == 24 },
			fields: []string{"enablePin"},
		},
		{
			name:   "actuators",
			mutate: func(c *Config) { c.Actuators = 3 },
			check:  func(c Config) bool { return c.Actuators == 2 },
			fields: []string{"actuators"},
		},
		{
			name:   "min not below max",
			mutate: func(c *Config) { c.MinPosition, c.MaxPosition = 500, 400 },
			check:  func(c Config) bool { return c.MinPosition == 0 && c.MaxPosition == 320 },
			fields: []string{"minPosition", "maxPosition"},
		},
		{
			name:   "default outside bounds",
			mutate: func(c *Config) { c.DefaultPositionRight = 1000 },
			check:  func(c Config) bool { return c.DefaultPositionRight == 160 },
			fields: []string{"defaultPositionRight"},
		},
		{
			name:   "on equals off",
			mutate: func(c *Config) { c.BusOnValue, c.BusOffValue = 5, 5 },
			check:  func(c Config) bool { return c.BusOnValue == 1 && c.BusOffValue == 0 },
			fields: []string{"busOnValue", "busOffValue"},
		},
		{
			name:   "timings",
			mutate: func(c *Config) { c.StepIntervalMs, c.MotorIdleTimeoutMs, c.AnimationDwellMs = 0, 100, 50000 },
			check: func(c Config) bool {
				return c.StepIntervalMs == 3 && c.MotorIdleTimeoutMs == 5000 && c.AnimationDwellMs == 1000
			},
			fields: []string{"stepIntervalMs", "motorIdleTimeoutMs", "animationDwellMs"},
		},
		{
			name:   "frame id beyond 29 bits",
			mutate: func(c *Config) { c.BusFrameID = 0x20000000 },
			check:  func(c Config) bool { return c.BusFrameID == 0x3F5 },
			fields: []string{"busFrameId"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			fixed := c.Sanitize()
			if !tt.check(c) {
				t.Errorf("unexpected result %+v", c)
			}
			if len(fixed) != len(tt.fields) {
				t.Fatalf("fixed = %v, want %v", fixed, tt.fields)
			}
			for i := range fixed {
				if fixed[i] != tt.fields[i] {
					t.Errorf("fixed[%d] = %q, want %q", i, fixed[i], tt.fields[i])
				}
			}
		})
	}
}

func intp(v int) *int { return &v }

func TestApplyClamps(t *testing.T) {
	c := DefaultConfig().Apply(Patch{
		StepIntervalMs:     intp(0),
		MotorIdleTimeoutMs: intp(99999),
		AnimationCycles:    intp(42),
		EnablePin:          intp(-4),
	})
	if c.StepIntervalMs != 1 || c.MotorIdleTimeoutMs != 20000 || c.AnimationCycles != 10 || c.EnablePin != 0 {
		t.Errorf("clamping failed: %+v", c)
	}

	c = DefaultConfig().Apply(Patch{MaxPosition: intp(100)})
	if c.MaxPosition != 100 || c.DefaultPositionLeft != 100 || c.DefaultPositionRight != 100 {
		t.Errorf("defaults not pulled into new bounds: %+v", c)
	}

	c = DefaultConfig().Apply(Patch{MinPosition: intp(400)})
	if c.MinPosition != 400 || c.MaxPosition != 401 {
		t.Errorf("max not pushed above min: %+v", c)
	}

	if !(Patch{}).Empty() || (Patch{Actuators: intp(1)}).Empty() {
		t.Error("Empty mismatch")
	}
}

func TestLoadConfigEmptyStore(t *testing.T) {
	s := store.NewMemoryStore()
	c, healed, err := LoadConfig(s)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !healed || c != DefaultConfig() {
		t.Errorf("expected healed defaults, got healed=%v %+v", healed, c)
	}
	if s.Commits() != 1 {
		t.Errorf("commits = %d, want 1", s.Commits())
	}

	// Second load finds a clean record and writes nothing.
	if _, healed, err := LoadConfig(s); err != nil || healed {
		t.Errorf("second load healed=%v err=%v", healed, err)
	}
	if s.Commits() != 1 {
		t.Errorf("commits = %d after clean load", s.Commits())
	}
}

func TestLoadConfigHealsFields(t *testing.T) {
	s := store.NewMemoryStore()
	bad := DefaultConfig()
	bad.MaxPosition = 800
	bad.StepIntervalMs = 5000
	if err := SaveConfig(s, bad); err != nil {
		t.Fatal(err)
	}

	c, healed, err := LoadConfig(s)
	if err != nil || !healed {
		t.Fatalf("healed=%v err=%v", healed, err)
	}
	if c.MaxPosition != 800 {
		t.Errorf("valid field lost: max = %d", c.MaxPosition)
	}
	if c.StepIntervalMs != 3 {
		t.Errorf("stepIntervalMs = %d, want default", c.StepIntervalMs)
	}

	again, _, _ := LoadConfig(s)
	if again != c {
		t.Errorf("healed record not re-persisted: %+v", again)
	}
}

func TestLoadConfigCorruptMagic(t *testing.T) {
	s := store.NewMemoryStore()
	c := DefaultConfig()
	c.MaxPosition = 1000
	b := EncodeConfig(c)
	b[1] = 0
	if _, err := s.WriteAt(b, ConfigOffset); err != nil {
		t.Fatal(err)
	}

	got, healed, err := LoadConfig(s)
	if err != nil || !healed {
		t.Fatalf("healed=%v err=%v", healed, err)
	}
	if got != DefaultConfig() {
		t.Errorf("corrupted record should yield defaults, got %+v", got)
	}
}

func TestLoadPositionOutOfRange(t *testing.T) {
	s := store.NewMemoryStore()
	cfg := DefaultConfig()
	if err := SavePosition(s, Position{Left: 500, Right: 10}); err != nil {
		t.Fatal(err)
	}

	p, healed, err := LoadPosition(s, cfg)
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if !healed || p != (Position{Left: 160, Right: 160}) {
		t.Errorf("got %+v healed=%v, want defaults", p, healed)
	}

	p, healed, _ = LoadPosition(s, cfg)
	if healed || p != (Position{Left: 160, Right: 160}) {
		t.Errorf("reset record not persisted: %+v healed=%v", p, healed)
	}
}

func TestLoadPositionValid(t *testing.T) {
	s := store.NewMemoryStore()
	cfg := DefaultConfig()
	if err := SavePosition(s, Position{Left: 0, Right: 320}); err != nil {
		t.Fatal(err)
	}
	p, healed, err := LoadPosition(s, cfg)
	if err != nil || healed {
		t.Fatalf("healed=%v err=%v", healed, err)
	}
	if p != (Position{Left: 0, Right: 320}) {
		t.Errorf("got %+v", p)
	}
}

func TestRecordsDoNotOverlap(t *testing.T) {
	if int64(configRecordSize) > PositionOffset {
		t.Fatalf("config record (%d bytes) overlaps position offset %d", configRecordSize, PositionOffset)
	}
	s := store.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.MaxPosition = 600
	if err := SavePosition(s, Position{Left: 3, Right: 4}); err != nil {
		t.Fatal(err)
	}
	if err := SaveConfig(s, cfg); err != nil {
		t.Fatal(err)
	}
	got, _, _ := LoadConfig(s)
	p, _, _ := LoadPosition(s, got)
	if got.MaxPosition != 600 || p != (Position{Left: 3, Right: 4}) {
		t.Errorf("records clobbered: cfg=%+v pos=%+v", got, p)
	}
}

type failingStore struct {
	*store.MemoryStore
	commitErr error
}

func (f *failingStore) Commit() error { return f.commitErr }

func TestWriterReportsResults(t *testing.T) {
	s := store.NewMemoryStore()
	w := NewWriter(s)

	if !w.SubmitPosition(Position{Left: 12, Right: 34}) {
		t.Fatal("SubmitPosition rejected")
	}
	select {
	case r := <-w.Results():
		if r.Err != nil || r.Kind != KindPosition || r.Position.Left != 12 {
			t.Errorf("unexpected result %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}
	w.Close()

	p, _, _ := LoadPosition(s, DefaultConfig())
	if p != (Position{Left: 12, Right: 34}) {
		t.Errorf("position not written: %+v", p)
	}
}

func TestWriterReportsFailure(t *testing.T) {
	boom := errors.New("disk gone")
	w := NewWriter(&failingStore{MemoryStore: store.NewMemoryStore(), commitErr: boom})
	defer w.Close()

	w.SubmitConfig(DefaultConfig())
	select {
	case r := <-w.Results():
		if !errors.Is(r.Err, boom) || r.Kind != KindConfig {
			t.Errorf("unexpected result %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}
}

// submitAll queues n position saves, retrying while the job queue is full.
func submitAll(w *Writer, n int) {
	for i := 0; i < n; i++ {
		for !w.SubmitPosition(Position{Left: i, Right: i}) {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestWriterKeepsResultsWhenBufferFull(t *testing.T) {
	w := NewWriter(store.NewMemoryStore())
	defer w.Close()

	const n = 12
	go submitAll(w, n)

	// Let the result buffer fill up before anyone reads it.
	deadline := time.Now().Add(2 * time.Second)
	for len(w.Results()) < cap(w.Results()) {
		if time.Now().After(deadline) {
			t.Fatal("result buffer never filled")
		}
		time.Sleep(time.Millisecond)
	}

	for i := 0; i < n; i++ {
		select {
		case r := <-w.Results():
			if r.Position.Left != i {
				t.Errorf("result %d is for position %d", i, r.Position.Left)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d results, want %d", i, n)
		}
	}
}

func TestWriterCloseWithFullBuffer(t *testing.T) {
	w := NewWriter(store.NewMemoryStore())
	done := make(chan struct{})
	go func() {
		// 8 buffered results, one writer blocked on the 9th, 4 queued jobs.
		for i := 0; i < 13; i++ {
			for !w.SubmitPosition(Position{Left: i}) {
				time.Sleep(time.Millisecond)
			}
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs never queued")
	}

	closed := make(chan struct{})
	go func() {
		w.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on undrained results")
	}
}
