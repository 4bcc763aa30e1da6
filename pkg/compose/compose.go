// Package compose merges a character render onto a background render.
package compose

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
)

const (
	characterHeightRatio = 0.6
	bottomMargin         = 20
	jpegQuality          = 95
)

// ImageError names the image operation that failed.
type ImageError struct {
	Op  string
	Err error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image %s failed: %v", e.Op, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

// RemoveWhiteBackground makes every pixel whose R, G and B all exceed
// threshold fully transparent.
func RemoveWhiteBackground(img image.Image, threshold int) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 0; i+3 < len(out.Pix); i += 4 {
		if int(out.Pix[i]) > threshold && int(out.Pix[i+1]) > threshold && int(out.Pix[i+2]) > threshold {
			out.Pix[i+3] = 0
		}
	}
	return out
}

// ResizeForBackground scales the character to 60% of the background height,
// keeping its aspect ratio.
func ResizeForBackground(char, bg image.Image) *image.NRGBA {
	targetH := int(float64(bg.Bounds().Dy()) * characterHeightRatio)
	scale := float64(targetH) / float64(char.Bounds().Dy())
	w := max(int(float64(char.Bounds().Dx())*scale), 1)
	resized := imaging.Resize(char, w, max(targetH, 1), imaging.Lanczos)
	log.Debug("character resized",
		"from", fmt.Sprintf("%dx%d", char.Bounds().Dx(), char.Bounds().Dy()),
		"to", fmt.Sprintf("%dx%d", resized.Bounds().Dx(), resized.Bounds().Dy()))
	return resized
}

// Merge places the character centred near the bottom of the background and
// flattens the result onto opaque white.
func Merge(char, bg image.Image, threshold int) (*image.RGBA, error) {
	if char.Bounds().Empty() {
		return nil, &ImageError{Op: "merge", Err: fmt.Errorf("character image is empty")}
	}
	if bg.Bounds().Empty() {
		return nil, &ImageError{Op: "merge", Err: fmt.Errorf("background image is empty")}
	}

	cut := RemoveWhiteBackground(char, threshold)
	resized := ResizeForBackground(cut, bg)

	canvas := imaging.Clone(bg)
	bw, bh := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	cw, ch := resized.Bounds().Dx(), resized.Bounds().Dy()
	at := image.Pt((bw-cw)/2, bh-ch-bottomMargin)
	draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(image.Pt(cw, ch))}, resized, image.Point{}, draw.Over)

	final := image.NewRGBA(canvas.Bounds())
	draw.Draw(final, final.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(final, final.Bounds(), canvas, image.Point{}, draw.Over)
	return final, nil
}

// MergeFiles reads PNG, JPEG or WebP inputs and writes a quality 95 JPEG.
func MergeFiles(charPath, bgPath, outPath string, threshold int) error {
	char, err := imaging.Open(charPath)
	if err != nil {
		return &ImageError{Op: "open character", Err: err}
	}
	bg, err := imaging.Open(bgPath)
	if err != nil {
		return &ImageError{Op: "open background", Err: err}
	}

	merged, err := Merge(char, bg, threshold)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return &ImageError{Op: "save", Err: err}
	}
	if err := imaging.Save(merged, outPath, imaging.JPEGQuality(jpegQuality)); err != nil {
		return &ImageError{Op: "save", Err: err}
	}
	log.Info("images merged", "output", outPath)
	return nil
}

// SaveImage decodes generator output and re-encodes it in the format named
// by the path's extension.
func SaveImage(data []byte, path string) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ImageError{Op: "decode", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &ImageError{Op: "save", Err: err}
	}
	if err := imaging.Save(img, path); err != nil {
		return nil, &ImageError{Op: "save", Err: err}
	}
	return img, nil
}

func EncodeWebP(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := webp.Encode(buf, img, webp.Options{Lossless: false, Quality: 100}); err != nil {
		return nil, &ImageError{Op: "encode webp", Err: err}
	}
	return buf.Bytes(), nil
}

// SaveWebP writes a WebP copy of the image at path to previewPath.
func SaveWebP(path, previewPath string) error {
	img, err := imaging.Open(path)
	if err != nil {
		return &ImageError{Op: "open preview source", Err: err}
	}
	data, err := EncodeWebP(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(previewPath, data, 0o644); err != nil {
		return &ImageError{Op: "save webp", Err: err}
	}
	return nil
}
