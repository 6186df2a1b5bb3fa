package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/emer/etable/etensor"

	"github.com/robolab/roboeval/internal/envs"
)

// RolloutWrapper runs predictor inference on a background worker so that a
// fixed-period control loop is never blocked past its deadline. Predicted
// actions are buffered with per-step timestamps spaced one control period
// apart; each call serves the buffered actions aligned to the requested first
// action time and triggers a new inference only when the buffer has drained to
// nActionBuffer actions or fewer.
type RolloutWrapper struct {
	pred          Predictor
	period        float64
	nActionBuffer int

	reqC chan wrapperRequest
	resC chan wrapperResult
	quit chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	gen    uint64
	buffer []timedAction
	closed bool
}

// timedAction is one buffered action step and the control-loop time it is
// meant to be applied at.
type timedAction struct {
	ts     float64
	action []float32
}

type wrapperRequest struct {
	obs       envs.Observation
	obsTime   float64
	firstTime float64
	gen       uint64
}

type wrapperResult struct {
	seq     *ActionSequence
	err     error
	obsTime float64
	gen     uint64
}

// NewRolloutWrapper starts the inference worker. fps fixes the timestamp
// spacing of buffered actions; nActionBuffer is how many future actions may
// remain buffered before a new inference is triggered. Close must be called
// to join the worker.
func NewRolloutWrapper(pred Predictor, fps float64, nActionBuffer int) *RolloutWrapper {
	if fps <= 0 {
		fps = 1
	}
	if nActionBuffer < 0 {
		nActionBuffer = 0
	}
	w := &RolloutWrapper{
		pred:          pred,
		period:        1 / fps,
		nActionBuffer: nActionBuffer,
		reqC:          make(chan wrapperRequest, 1),
		resC:          make(chan wrapperResult, 1),
		quit:          make(chan struct{}),
	}
	w.wg.Add(1)
	go w.worker()
	return w
}

func (w *RolloutWrapper) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			return
		case req := <-w.reqC:
			seq, err := w.infer(req)
			// Latest result wins; an unread stale result is discarded.
			select {
			case <-w.resC:
			default:
			}
			select {
			case w.resC <- wrapperResult{seq: seq, err: err, obsTime: req.obsTime, gen: req.gen}:
			case <-w.quit:
				return
			}
		}
	}
}

func (w *RolloutWrapper) infer(req wrapperRequest) (*ActionSequence, error) {
	pred, err := w.pred.PredictSequence(req.obs)
	if err != nil {
		return nil, err
	}
	if pred.NumDims() != 3 || pred.Dim(0) != 1 {
		return nil, fmt.Errorf("hardware predictions must have shape [1, horizon, action_dim], got %v", pred.Shape.Shp)
	}
	horizon, dim := pred.Dim(1), pred.Dim(2)
	squeezed := etensor.NewFloat32([]int{horizon, dim}, nil, nil)
	copy(squeezed.Values, pred.Values)
	seq, err := NewActionSequence(squeezed)
	if err != nil {
		return nil, err
	}
	seq.ObsTime = req.obsTime
	seq.FirstTime = req.firstTime
	return seq, nil
}

// ProvideObservationGetActions submits the observation for inference when the
// buffer is low and returns the buffered actions from firstActionTime onward,
// or nil when none are available. A timeout <= 0 blocks until inference
// completes (used on the first control step, when nothing is buffered yet).
// Results computed before the last Reset are always discarded; when
// strictTimestamps is set, results computed from an earlier observation are
// discarded too instead of being merged into the buffer.
func (w *RolloutWrapper) ProvideObservationGetActions(
	obs envs.Observation,
	obsTime, firstActionTime float64,
	strictTimestamps bool,
	timeout time.Duration,
) (*ActionSequence, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, fmt.Errorf("rollout wrapper is closed")
	}
	gen := w.gen
	w.pruneLocked(firstActionTime)
	needInfer := len(w.buffer) <= w.nActionBuffer
	w.mu.Unlock()

	if needInfer {
		req := wrapperRequest{obs: obs, obsTime: obsTime, firstTime: firstActionTime, gen: gen}
		// Latest observation wins; an unserved stale request is replaced.
		select {
		case w.reqC <- req:
		default:
			select {
			case <-w.reqC:
			default:
			}
			select {
			case w.reqC <- req:
			case <-w.quit:
				return nil, fmt.Errorf("rollout wrapper is closed")
			}
		}
	}

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	for waiting := needInfer; waiting; {
		select {
		case res := <-w.resC:
			if res.gen != gen {
				continue
			}
			if res.err != nil {
				return nil, res.err
			}
			if strictTimestamps && res.obsTime != obsTime {
				continue
			}
			w.merge(res.seq, gen)
			waiting = false
		case <-timerC:
			waiting = false
		case <-w.quit:
			return nil, fmt.Errorf("rollout wrapper is closed")
		}
	}

	// Scoop a parked result from an earlier request without blocking.
	select {
	case res := <-w.resC:
		if res.gen == gen && res.err == nil && (!strictTimestamps || res.obsTime == obsTime) {
			w.merge(res.seq, gen)
		}
	default:
	}

	return w.serve(firstActionTime, obsTime)
}

// merge folds an inference result into the buffer. Actions at or past the
// sequence's first timestamp are replaced: the fresher prediction wins.
func (w *RolloutWrapper) merge(seq *ActionSequence, gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != gen {
		return
	}
	kept := w.buffer[:0]
	for _, a := range w.buffer {
		if a.ts < seq.FirstTime-w.period/2 {
			kept = append(kept, a)
		}
	}
	w.buffer = kept
	for i := 0; i < seq.Len(); i++ {
		w.buffer = append(w.buffer, timedAction{
			ts:     seq.FirstTime + float64(i)*w.period,
			action: append([]float32(nil), seq.At(i)...),
		})
	}
}

// serve returns the buffered actions from firstActionTime onward as one
// sequence, or nil when the buffer is empty.
func (w *RolloutWrapper) serve(firstActionTime, obsTime float64) (*ActionSequence, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(firstActionTime)
	if len(w.buffer) == 0 {
		return nil, nil
	}
	dim := len(w.buffer[0].action)
	out := etensor.NewFloat32([]int{len(w.buffer), dim}, nil, nil)
	for i, a := range w.buffer {
		copy(out.Values[i*dim:(i+1)*dim], a.action)
	}
	seq, err := NewActionSequence(out)
	if err != nil {
		return nil, err
	}
	seq.ObsTime = obsTime
	seq.FirstTime = w.buffer[0].ts
	return seq, nil
}

// pruneLocked drops actions scheduled before firstActionTime. Timestamps
// within half a period still count as current to absorb control-loop jitter.
func (w *RolloutWrapper) pruneLocked(firstActionTime float64) {
	kept := w.buffer[:0]
	for _, a := range w.buffer {
		if a.ts >= firstActionTime-w.period/2 {
			kept = append(kept, a)
		}
	}
	w.buffer = kept
}

// Reset discards buffered actions and any pending request or unread result,
// and invalidates in-flight inference so that a prediction started before the
// reset can never serve the next episode.
func (w *RolloutWrapper) Reset() {
	w.mu.Lock()
	w.gen++
	w.buffer = nil
	w.mu.Unlock()
	select {
	case <-w.reqC:
	default:
	}
	select {
	case <-w.resC:
	default:
	}
}

// Close stops the worker and waits for it to exit. Callers blocked in
// ProvideObservationGetActions are released with an error.
func (w *RolloutWrapper) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	close(w.quit)
	w.wg.Wait()
}
