// Package video hands finished episodes' frames to an encoder on background
// writers. Encoding itself is an external collaborator; the package owns the
// writer lifecycle so no writer is ever abandoned and the first failure is
// surfaced at join time.
package video

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/emer/etable/etensor"
)

// Encoder writes one episode's frames to path at the given frame rate. Frames
// have shape [H, W, 3] with values in [0, 255].
type Encoder interface {
	Encode(path string, frames []*etensor.Float32, fps float64) error
}

// Pool runs one background writer per episode. Write never blocks the rollout
// loop; Wait joins every writer and returns the first captured failure.
type Pool struct {
	wg    sync.WaitGroup
	mu    sync.Mutex
	errs  []error
	paths []string
}

func (p *Pool) Write(enc Encoder, path string, frames []*etensor.Float32, fps float64) {
	p.mu.Lock()
	p.paths = append(p.paths, path)
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := enc.Encode(path, frames, fps); err != nil {
			p.mu.Lock()
			p.errs = append(p.errs, fmt.Errorf("encode %s: %w", path, err))
			p.mu.Unlock()
		}
	}()
}

// Wait blocks until every writer has finished.
func (p *Pool) Wait() error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) > 0 {
		return p.errs[0]
	}
	return nil
}

// Paths lists every output path handed to Write, in submission order.
func (p *Pool) Paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

// PNGSequence is a reference encoder that writes each frame as a numbered PNG
// under the target path (interpreted as a directory). Real video encoding is
// plugged in behind the Encoder interface.
type PNGSequence struct{}

func (PNGSequence) Encode(path string, frames []*etensor.Float32, fps float64) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	for i, frame := range frames {
		img, err := frameToImage(frame)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		f, err := os.Create(filepath.Join(path, fmt.Sprintf("frame_%06d.png", i)))
		if err != nil {
			return err
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func frameToImage(frame *etensor.Float32) (image.Image, error) {
	if frame.NumDims() != 3 || frame.Dim(2) != 3 {
		return nil, fmt.Errorf("frame must have shape [H, W, 3], got %v", frame.Shape.Shp)
	}
	h, w := frame.Dim(0), frame.Dim(1)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := (y*w + x) * 3
			off := img.PixOffset(x, y)
			img.Pix[off] = clampByte(frame.Values[base])
			img.Pix[off+1] = clampByte(frame.Values[base+1])
			img.Pix[off+2] = clampByte(frame.Values[base+2])
			img.Pix[off+3] = 255
		}
	}
	return img, nil
}

func clampByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
