// Package record defines the per-frame lane annotation record and its
// on-disk encodings.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/lanegen/internal/fsutil"
	"github.com/banshee-data/lanegen/internal/geom"
)

// ErrNoCameraModel is returned when a frame's persisted matrices are
// missing or misshapen.
var ErrNoCameraModel = errors.New("frame has no usable camera model")

// LaneLine is one lane boundary. XYZ is 3xN in the ExportCamera frame, UV
// is 2xN in pixels, and Visibility holds N flags of 0 or 1.
type LaneLine struct {
	XYZ        [][]float32 `json:"xyz" cbor:"xyz"`
	UV         [][]float32 `json:"uv" cbor:"uv"`
	Visibility []float32   `json:"visibility" cbor:"visibility"`
	Category   int         `json:"category" cbor:"category"`
}

// NewLaneLine packs per-point columns into the record layout.
func NewLaneLine(points []r3.Vec, u, v []float64, visible []bool, category int) LaneLine {
	n := len(points)
	l := LaneLine{
		XYZ:        [][]float32{make([]float32, n), make([]float32, n), make([]float32, n)},
		UV:         [][]float32{make([]float32, n), make([]float32, n)},
		Visibility: make([]float32, n),
		Category:   category,
	}
	for i, p := range points {
		l.XYZ[0][i], l.XYZ[1][i], l.XYZ[2][i] = float32(p.X), float32(p.Y), float32(p.Z)
		l.UV[0][i], l.UV[1][i] = float32(u[i]), float32(v[i])
		if visible[i] {
			l.Visibility[i] = 1
		}
	}
	return l
}

// Len is the number of points.
func (l LaneLine) Len() int { return len(l.Visibility) }

// Points returns the ExportCamera points as vectors.
func (l LaneLine) Points() []r3.Vec {
	if len(l.XYZ) != 3 {
		return nil
	}
	out := make([]r3.Vec, len(l.XYZ[0]))
	for i := range out {
		out[i] = r3.Vec{X: float64(l.XYZ[0][i]), Y: float64(l.XYZ[1][i]), Z: float64(l.XYZ[2][i])}
	}
	return out
}

// VisibleCount returns the number of visible points.
func (l LaneLine) VisibleCount() int {
	n := 0
	for _, v := range l.Visibility {
		if v > 0 {
			n++
		}
	}
	return n
}

// Frame is one tick's annotation. A skipped tick has no lanes and empty
// intrinsic and extrinsic matrices.
type Frame struct {
	LaneLines []LaneLine  `json:"lane_lines" cbor:"lane_lines"`
	Intrinsic [][]float64 `json:"intrinsic" cbor:"intrinsic"`
	Extrinsic [][]float64 `json:"extrinsic" cbor:"extrinsic"`
	FilePath  string      `json:"file_path" cbor:"file_path"`

	// CameraToGround is the computed StandardCamera->Ground transform,
	// before any re-expression for the consumer. Not persisted; use
	// Restore on a decoded frame.
	CameraToGround *mat.Dense `json:"-" cbor:"-"`
}

// Empty returns the record for a skipped tick.
func Empty() Frame {
	return Frame{
		LaneLines: []LaneLine{},
		Intrinsic: [][]float64{},
		Extrinsic: [][]float64{},
	}
}

// Skipped reports whether the frame carries no camera model.
func (f Frame) Skipped() bool { return len(f.Intrinsic) == 0 }

// IntrinsicMatrix returns the persisted 3x3 intrinsic.
func (f Frame) IntrinsicMatrix() (*mat.Dense, error) {
	return denseFromRows(f.Intrinsic, 3, 3, "intrinsic")
}

// ExtrinsicMatrix returns the persisted 4x4 extrinsic as written.
func (f Frame) ExtrinsicMatrix() (*mat.Dense, error) {
	return denseFromRows(f.Extrinsic, 4, 4, "extrinsic")
}

// RecoverCameraToGround rebuilds the computed StandardCamera->Ground
// transform from the persisted extrinsic. reexpressed says whether the
// frame was written with the consumer re-expression applied.
func (f Frame) RecoverCameraToGround(reexpressed bool) (*mat.Dense, error) {
	e, err := f.ExtrinsicMatrix()
	if err != nil {
		return nil, err
	}
	if reexpressed {
		return geom.RecoverExtrinsic(e), nil
	}
	return e, nil
}

// Restore sets CameraToGround on a decoded frame.
func (f *Frame) Restore(reexpressed bool) error {
	e, err := f.RecoverCameraToGround(reexpressed)
	if err != nil {
		return err
	}
	f.CameraToGround = e
	return nil
}

func denseFromRows(rows [][]float64, r, c int, name string) (*mat.Dense, error) {
	if len(rows) != r {
		return nil, fmt.Errorf("%w: %s has %d rows, want %d", ErrNoCameraModel, name, len(rows), r)
	}
	data := make([]float64, 0, r*c)
	for i, row := range rows {
		if len(row) != c {
			return nil, fmt.Errorf("%w: %s row %d has %d columns, want %d", ErrNoCameraModel, name, i, len(row), c)
		}
		data = append(data, row...)
	}
	return mat.NewDense(r, c, data), nil
}

// normalized replaces nil slices so they encode as empty lists.
func (f Frame) normalized() Frame {
	if f.LaneLines == nil {
		f.LaneLines = []LaneLine{}
	}
	if f.Intrinsic == nil {
		f.Intrinsic = [][]float64{}
	}
	if f.Extrinsic == nil {
		f.Extrinsic = [][]float64{}
	}
	return f
}

// MarshalJSON encodes nil lists as [] rather than null.
func (f Frame) MarshalJSON() ([]byte, error) {
	type plain Frame
	return json.Marshal(plain(f.normalized()))
}

var cborEnc = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// EncodeCBOR encodes f with deterministic CBOR.
func EncodeCBOR(f Frame) ([]byte, error) {
	b, err := cborEnc.Marshal(f.normalized())
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return b, nil
}

// DecodeJSON decodes a JSON annotation.
func DecodeJSON(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f.normalized(), nil
}

// ReadFrame loads an annotation, choosing the decoder from the file
// extension.
func ReadFrame(fs fsutil.FileSystem, path string) (Frame, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	switch filepath.Ext(path) {
	case "." + string(FormatCBOR):
		f, err = DecodeCBOR(data)
	default:
		f, err = DecodeJSON(data)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// DecodeCBOR decodes a frame produced by EncodeCBOR.
func DecodeCBOR(data []byte) (Frame, error) {
	var f Frame
	if err := cbor.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f.normalized(), nil
}
