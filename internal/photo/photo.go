// Package photo decodes selfie data URIs, burns an identifying caption into
// the pixels and re-encodes them as JPEG data URIs.
package photo

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/webp"
)

var (
	ErrInvalidDataURI  = errors.New("invalid image data url")
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image exceeds size limit")
)

// AllowedMIME lists the image types accepted from clients.
var AllowedMIME = []string{"image/jpeg", "image/png", "image/webp"}

const (
	maxWidth    = 1280
	maxPixels   = 4096 * 4096
	jpegQuality = 85
	lineHeight  = 15
	padding     = 6
)

// DecodeDataURI returns the payload bytes and mime type of a base64 data URI.
// maxBytes <= 0 disables the size check.
func DecodeDataURI(value string, maxBytes int) ([]byte, string, error) {
	raw := strings.TrimSpace(value)
	if !strings.HasPrefix(raw, "data:") {
		return nil, "", ErrInvalidDataURI
	}
	comma := strings.Index(raw, ",")
	if comma <= 5 {
		return nil, "", ErrInvalidDataURI
	}
	meta := raw[5:comma]
	if !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		return nil, "", fmt.Errorf("%w: must be base64", ErrInvalidDataURI)
	}
	mime := strings.ToLower(strings.TrimSpace(meta[:len(meta)-len(";base64")]))
	if !allowed(mime) {
		return nil, "", ErrUnsupportedType
	}
	payload := raw[comma+1:]
	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+3 {
		return nil, "", ErrTooLarge
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	if len(decoded) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrInvalidDataURI)
	}
	if maxBytes > 0 && len(decoded) > maxBytes {
		return nil, "", ErrTooLarge
	}
	return decoded, mime, nil
}

func allowed(mime string) bool {
	for _, m := range AllowedMIME {
		if m == mime {
			return true
		}
	}
	return false
}

// Validate checks that value is an acceptable image data URI.
func Validate(value string, maxBytes int) error {
	_, _, err := DecodeDataURI(value, maxBytes)
	return err
}

// DecodeImage decodes png or jpeg, falling back to webp. Frames above
// maxPixels are rejected from their header before any pixel is decoded.
func DecodeImage(raw []byte) (image.Image, error) {
	decode := func(r io.Reader) (image.Image, error) {
		img, _, err := image.Decode(r)
		return img, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		var webpErr error
		if cfg, webpErr = webp.DecodeConfig(bytes.NewReader(raw)); webpErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
		}
		decode = webp.Decode
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d pixels", ErrTooLarge, cfg.Width, cfg.Height)
	}
	img, err := decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	}
	return img, nil
}

// EncodeDataURI encodes img as a JPEG data URI.
func EncodeDataURI(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Caption is the text burnt into an attendance selfie.
type Caption struct {
	Name      string
	Direction string
	Time      time.Time
	Lat, Lng  float64
	Address   string
}

// Lines renders the caption, one entry per overlay line.
func (c Caption) Lines() []string {
	lines := []string{
		fmt.Sprintf("%s - %s", c.Name, strings.ToUpper(c.Direction)),
		c.Time.Format("2006-01-02 15:04:05 MST"),
		fmt.Sprintf("%.6f, %.6f", c.Lat, c.Lng),
	}
	if c.Address != "" {
		lines = append(lines, c.Address)
	}
	return lines
}

// Stamp decodes the data URI, downsizes wide frames, draws the caption on a
// dark band along the bottom edge and returns a JPEG data URI.
func Stamp(dataURI string, caption Caption, maxBytes int) (string, error) {
	raw, _, err := DecodeDataURI(dataURI, maxBytes)
	if err != nil {
		return "", err
	}
	src, err := DecodeImage(raw)
	if err != nil {
		return "", err
	}
	canvas := toRGBA(src)
	drawCaption(canvas, caption.Lines())
	return EncodeDataURI(canvas)
}

func toRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxWidth {
		h = h * maxWidth / w
		w = maxWidth
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
		return dst
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

func drawCaption(dst *image.RGBA, lines []string) {
	b := dst.Bounds()
	bandHeight := len(lines)*lineHeight + 2*padding
	if bandHeight > b.Dy() {
		bandHeight = b.Dy()
	}
	band := image.Rect(b.Min.X, b.Max.Y-bandHeight, b.Max.X, b.Max.Y)
	draw.Draw(dst, band, image.NewUniform(color.RGBA{A: 170}), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		baseline := band.Min.Y + padding + (i+1)*lineHeight - 3
		d.Dot = fixed.P(b.Min.X+padding, baseline)
		d.DrawString(line)
	}
}
