package video

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emer/etable/etensor"
)

type slowEncoder struct {
	delay time.Duration
	fail  bool
	done  atomic.Int32
}

func (e *slowEncoder) Encode(path string, frames []*etensor.Float32, fps float64) error {
	time.Sleep(e.delay)
	e.done.Add(1)
	if e.fail {
		return errors.New("encoder exploded")
	}
	return nil
}

func testFrame() *etensor.Float32 {
	f := etensor.NewFloat32([]int{4, 4, 3}, nil, nil)
	for i := range f.Values {
		f.Values[i] = float32(i % 256)
	}
	return f
}

func TestPool_WaitJoinsAllWriters(t *testing.T) {
	enc := &slowEncoder{delay: 20 * time.Millisecond}
	var p Pool
	for i := 0; i < 5; i++ {
		p.Write(enc, fmt.Sprintf("episode_%d", i), []*etensor.Float32{testFrame()}, 10)
	}
	if err := p.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := enc.done.Load(); got != 5 {
		t.Fatalf("joined with %d writers finished, want 5", got)
	}
	if got := len(p.Paths()); got != 5 {
		t.Fatalf("paths recorded = %d, want 5", got)
	}
}

func TestPool_SurfacesWriterFailure(t *testing.T) {
	var p Pool
	p.Write(&slowEncoder{fail: true}, "bad", []*etensor.Float32{testFrame()}, 10)
	if err := p.Wait(); err == nil {
		t.Fatal("expected writer failure to surface at join")
	}
}

func TestPNGSequence_WritesOneFilePerFrame(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "eval_episode_0")
	frames := []*etensor.Float32{testFrame(), testFrame(), testFrame()}
	if err := (PNGSequence{}).Encode(dir, frames, 10); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("wrote %d files, want 3", len(entries))
	}
}

func TestPNGSequence_RejectsBadFrameShape(t *testing.T) {
	bad := etensor.NewFloat32([]int{4, 4}, nil, nil)
	err := (PNGSequence{}).Encode(t.TempDir(), []*etensor.Float32{bad}, 10)
	if err == nil {
		t.Fatal("expected error for non-[H,W,3] frame")
	}
}
