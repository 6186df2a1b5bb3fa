package realtime

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Cycle is one control-loop iteration's timing facts.
type Cycle struct {
	Step     int
	Warmup   bool
	Dropped  bool
	OverTime bool
	Elapsed  time.Duration
}

// CycleObserver receives one event per control cycle.
type CycleObserver interface {
	ObserveCycle(c Cycle)
}

type CycleLogger struct {
	logger *log.Logger
}

func NewCycleLogger(logger *log.Logger) *CycleLogger {
	return &CycleLogger{logger: logger}
}

func (l *CycleLogger) ObserveCycle(c Cycle) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf("control_cycle step=%d warmup=%t dropped=%t over_time=%t elapsed_ms=%.3f",
		c.Step, c.Warmup, c.Dropped, c.OverTime, float64(c.Elapsed.Microseconds())/1000.0)
}

// AsyncCycleObserver decouples observation from the control loop: events go
// through a bounded channel and are dropped, not blocked on, when the consumer
// falls behind.
type AsyncCycleObserver struct {
	next    CycleObserver
	events  chan Cycle
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

func NewAsyncCycleObserver(next CycleObserver, buffer int) *AsyncCycleObserver {
	if buffer <= 0 {
		buffer = 1
	}

	o := &AsyncCycleObserver{
		next:   next,
		events: make(chan Cycle, buffer),
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for ev := range o.events {
			if o.next == nil {
				continue
			}
			o.next.ObserveCycle(ev)
		}
	}()

	return o
}

func (o *AsyncCycleObserver) ObserveCycle(c Cycle) {
	if o == nil {
		return
	}
	o.mu.RLock()
	if o.closed {
		o.mu.RUnlock()
		o.dropped.Add(1)
		return
	}
	select {
	case o.events <- c:
	default:
		o.dropped.Add(1)
	}
	o.mu.RUnlock()
}

func (o *AsyncCycleObserver) Dropped() uint64 {
	if o == nil {
		return 0
	}
	return o.dropped.Load()
}

func (o *AsyncCycleObserver) Close() {
	if o == nil {
		return
	}
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.events)
		o.mu.Unlock()
		o.wg.Wait()
	})
}
