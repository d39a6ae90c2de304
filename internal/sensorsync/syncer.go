package sensorsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/lanegen/internal/depth"
	"github.com/banshee-data/lanegen/internal/geom"
	"github.com/banshee-data/lanegen/internal/timeutil"
)

// DefaultTimeout is how long GetSyncedFrames waits for each tick.
const DefaultTimeout = 2 * time.Second

// Bundle is one tick's aligned sensor samples.
type Bundle struct {
	Tick         uint64
	RGB          Sample
	Depth        Sample
	Segmentation Sample
}

// CameraPose is the camera's World pose at capture time.
func (b Bundle) CameraPose() geom.Transform {
	return b.RGB.Pose
}

// DepthMap decodes the depth sample.
func (b Bundle) DepthMap() (*depth.Map, error) {
	m, err := depth.Decode(b.Depth.Raw, b.Depth.Width, b.Depth.Height)
	if err != nil {
		return nil, fmt.Errorf("tick %d: %w", b.Tick, err)
	}
	return m, nil
}

// SegmentationClasses returns the per-pixel semantic class, carried in
// the red channel of the BGRA segmentation image.
func (b Bundle) SegmentationClasses() ([]uint8, error) {
	s := b.Segmentation
	if want := s.Width * s.Height * 4; s.Width <= 0 || s.Height <= 0 || len(s.Raw) != want {
		return nil, fmt.Errorf("tick %d: segmentation buffer is %d bytes for %dx%d", b.Tick, len(s.Raw), s.Width, s.Height)
	}
	out := make([]uint8, s.Width*s.Height)
	for i := range out {
		out[i] = s.Raw[i*4+2]
	}
	return out, nil
}

// Syncer joins the three camera streams mounted at the same pose.
type Syncer struct {
	RGB          *Stream
	Depth        *Stream
	Segmentation *Stream
}

// NewSyncer creates the rgb, depth and segmentation streams.
func NewSyncer(capacity int, clock timeutil.Clock) *Syncer {
	return &Syncer{
		RGB:          NewStream("rgb", capacity, clock),
		Depth:        NewStream("depth", capacity, clock),
		Segmentation: NewStream("segmentation", capacity, clock),
	}
}

// GetSyncedFrames waits for every stream to deliver tick. The streams are
// awaited concurrently so the whole call is bounded by one timeout. The
// first stream to fail the tick releases the others, and the returned
// error joins the failures that caused it. The caller should move on to
// the next tick.
func (s *Syncer) GetSyncedFrames(ctx context.Context, tick uint64, timeout time.Duration) (Bundle, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tickCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	streams := []*Stream{s.RGB, s.Depth, s.Segmentation}
	samples := make([]Sample, len(streams))
	errs := make([]error, len(streams))

	var wg sync.WaitGroup
	for i, st := range streams {
		wg.Add(1)
		go func(i int, st *Stream) {
			defer wg.Done()
			samples[i], errs[i] = st.Await(tickCtx, tick, timeout)
			if errs[i] != nil {
				cancel()
			}
		}(i, st)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Bundle{}, err
	}
	// Streams released by a sibling's failure report context.Canceled;
	// only the failures that lost the tick are returned.
	for i, err := range errs {
		if errors.Is(err, context.Canceled) {
			errs[i] = nil
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Bundle{}, err
	}
	return Bundle{
		Tick:         tick,
		RGB:          samples[0],
		Depth:        samples[1],
		Segmentation: samples[2],
	}, nil
}

// Close closes all streams.
func (s *Syncer) Close() {
	s.RGB.Close()
	s.Depth.Close()
	s.Segmentation.Close()
}
