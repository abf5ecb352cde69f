package persist

import (
	"sync"

	"github.com/cjeanneret/WinkGo/internal/debug"
	"github.com/cjeanneret/WinkGo/internal/store"
)

// Kind identifies which record a save concerned.
type Kind int

const (
	KindPosition Kind = iota
	KindConfig
)

func (k Kind) String() string {
	if k == KindConfig {
		return "config"
	}
	return "position"
}

// Result reports the outcome of one asynchronous save.
type Result struct {
	Kind     Kind
	Position Position
	Err      error
}

type job struct {
	kind Kind
	pos  Position
	cfg  Config
}

// Writer performs saves on its own goroutine so storage latency never
// reaches the control loop. Results are delivered on Results(), which the
// loop drains without blocking.
type Writer struct {
	store   store.Store
	jobs    chan job
	results chan Result
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewWriter starts the writer goroutine.
func NewWriter(s store.Store) *Writer {
	w := &Writer{
		store:   s,
		jobs:    make(chan job, 4),
		results: make(chan Result, 8),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for j := range w.jobs {
		var err error
		switch j.kind {
		case KindConfig:
			err = SaveConfig(w.store, j.cfg)
		default:
			err = SavePosition(w.store, j.pos)
		}
		if err != nil {
			debug.Error(err)
		} else {
			debug.Verbose("Saved %s record", j.kind)
		}
		w.report(Result{Kind: j.kind, Position: j.pos, Err: err})
	}
}

// report waits for the loop to take the result. Once Close has been
// called nobody drains the channel any more, so a full buffer drops it.
func (w *Writer) report(r Result) {
	select {
	case w.results <- r:
		return
	case <-w.stop:
	}
	select {
	case w.results <- r:
	default:
		debug.Warn("Persist result dropped at shutdown (%s)", r.Kind)
	}
}

// SubmitPosition queues a position save. It returns false when the queue
// is full; the caller keeps its dirty flag and retries later.
func (w *Writer) SubmitPosition(p Position) bool {
	select {
	case w.jobs <- job{kind: KindPosition, pos: p}:
		return true
	default:
		return false
	}
}

func (w *Writer) SubmitConfig(c Config) bool {
	select {
	case w.jobs <- job{kind: KindConfig, cfg: c}:
		return true
	default:
		return false
	}
}

func (w *Writer) Results() <-chan Result {
	return w.results
}

// Close stops accepting jobs and waits for queued saves to finish.
func (w *Writer) Close() {
	w.once.Do(func() {
		close(w.stop)
		close(w.jobs)
	})
	<-w.done
}
