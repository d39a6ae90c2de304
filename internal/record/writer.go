package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"path"
	"path/filepath"

	"github.com/banshee-data/lanegen/internal/fsutil"
	"github.com/banshee-data/lanegen/internal/security"
)

// Format selects the annotation encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCBOR:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown record format %q (want json or cbor)", s)
}

const jpegQuality = 95

// Writer lays out one dataset segment:
//
//	<root>/images/<split>/<segment>/NNNNNN.jpg
//	<root>/lane3d_1000/<split>/<segment>/NNNNNN.json
type Writer struct {
	fs       fsutil.FileSystem
	format   Format
	split    string
	segment  string
	imageDir string
	laneDir  string
}

// NewWriter creates the segment directories under root. Split and
// segment names are sanitized into single path components.
func NewWriter(fs fsutil.FileSystem, root, split, segment string, format Format) (*Writer, error) {
	if format == "" {
		format = FormatJSON
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	split = security.SanitizeFilename(split)
	segment = security.SanitizeFilename(segment)

	imageDir, err := security.JoinWithin(root, "images", split, segment)
	if err != nil {
		return nil, err
	}
	laneDir, err := LaneDir(root, split, segment)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{imageDir, laneDir} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Writer{
		fs:       fs,
		format:   format,
		split:    split,
		segment:  segment,
		imageDir: imageDir,
		laneDir:  laneDir,
	}, nil
}

// LaneDir is the annotation directory for a segment. Split and segment
// are sanitized the same way NewWriter sanitizes them.
func LaneDir(root, split, segment string) (string, error) {
	return security.JoinWithin(root, "lane3d_1000", security.SanitizeFilename(split), security.SanitizeFilename(segment))
}

// AnnotationPath is where a segment's frame index is stored in format.
func AnnotationPath(root, split, segment string, index int, format Format) (string, error) {
	dir, err := LaneDir(root, split, segment)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileID(index)+"."+string(format)), nil
}

// FileID is the zero-padded per-segment frame name.
func FileID(index int) string { return fmt.Sprintf("%06d", index) }

// Segment returns the sanitized segment name.
func (w *Writer) Segment() string { return w.segment }

// Split returns the sanitized split name.
func (w *Writer) Split() string { return w.split }

// AnnotationPath is where frame index's annotation is written.
func (w *Writer) AnnotationPath(index int) string {
	return filepath.Join(w.laneDir, FileID(index)+"."+string(w.format))
}

// ImagePath is where frame index's image is written.
func (w *Writer) ImagePath(index int) string {
	return filepath.Join(w.imageDir, FileID(index)+".jpg")
}

// Write stores img and the annotation for frame index. The annotation's
// FilePath is set to the image path relative to the images root. It
// returns the frame as written.
func (w *Writer) Write(index int, f Frame, img image.Image) (Frame, error) {
	f.FilePath = path.Join(w.split, w.segment, FileID(index)+".jpg")

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Frame{}, fmt.Errorf("encode image %d: %w", index, err)
	}
	if err := w.fs.WriteFile(w.ImagePath(index), buf.Bytes(), 0o644); err != nil {
		return Frame{}, fmt.Errorf("write image %d: %w", index, err)
	}

	var data []byte
	var err error
	switch w.format {
	case FormatCBOR:
		data, err = EncodeCBOR(f)
	default:
		data, err = json.Marshal(f)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("encode annotation %d: %w", index, err)
	}
	if err := w.fs.WriteFile(w.AnnotationPath(index), data, 0o644); err != nil {
		return Frame{}, fmt.Errorf("write annotation %d: %w", index, err)
	}
	return f, nil
}

// ImageFromBGRA converts a simulator BGRA buffer to an RGBA image with
// the alpha channel forced opaque.
func ImageFromBGRA(raw []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || len(raw) != width*height*4 {
		return nil, fmt.Errorf("image buffer is %d bytes for %dx%d BGRA", len(raw), width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		px := raw[i*4 : i*4+4]
		img.Pix[i*4+0] = px[2]
		img.Pix[i*4+1] = px[1]
		img.Pix[i*4+2] = px[0]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}
