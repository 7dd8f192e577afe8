package photo

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whitePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeDataURI(t *testing.T) {
	uri := whitePNG(t, 4, 4)
	raw, mime, err := DecodeDataURI(uri, 0)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.NotEmpty(t, raw)

	_, _, err = DecodeDataURI("hello", 0)
	assert.ErrorIs(t, err, ErrInvalidDataURI)

	_, _, err = DecodeDataURI("data:image/png,plain", 0)
	assert.ErrorIs(t, err, ErrInvalidDataURI)

	_, _, err = DecodeDataURI("data:application/pdf;base64,AAAA", 0)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, _, err = DecodeDataURI("data:image/png;base64,!!!", 0)
	assert.ErrorIs(t, err, ErrInvalidDataURI)

	_, _, err = DecodeDataURI(uri, 10)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func luminance(c color.Color) uint32 {
	r, g, b, _ := c.RGBA()
	return (r + g + b) / 3 >> 8
}

func TestStampDrawsBandAtBottom(t *testing.T) {
	caption := Caption{
		Name:      "Siti Aminah",
		Direction: "in",
		Time:      time.Date(2024, 5, 1, 7, 15, 0, 0, time.FixedZone("WIB", 7*3600)),
		Lat:       -6.175392,
		Lng:       106.827153,
	}
	out, err := Stamp(whitePNG(t, 320, 200), caption, 0)
	require.NoError(t, err)

	raw, mime, err := DecodeDataURI(out, 0)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
	img, err := DecodeImage(raw)
	require.NoError(t, err)

	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Greater(t, luminance(img.At(10, 10)), uint32(230), "top stays bright")
	assert.Less(t, luminance(img.At(318, 198)), uint32(120), "bottom band is dark")
}

func TestStampDownscalesWideFrames(t *testing.T) {
	out, err := Stamp(whitePNG(t, 2560, 100), Caption{Name: "A", Direction: "out"}, 0)
	require.NoError(t, err)
	raw, _, err := DecodeDataURI(out, 0)
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, maxWidth, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

// pngHeader returns a grayscale PNG carrying only its IHDR chunk, enough for
// DecodeConfig to report the dimensions.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8
	chunk := append([]byte("IHDR"), ihdr...)

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestHugeFramesRejectedBeforeDecoding(t *testing.T) {
	raw := pngHeader(16000, 16000)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 16000, cfg.Width)

	_, err = DecodeImage(raw)
	assert.ErrorIs(t, err, ErrTooLarge)

	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
	require.NoError(t, Validate(uri, 5<<20))
	_, err = Stamp(uri, Caption{Name: "A", Direction: "in"}, 5<<20)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestCaptionLines(t *testing.T) {
	c := Caption{Name: "Budi", Direction: "out", Time: time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC), Address: "Sekolah"}
	lines := c.Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "Budi - OUT", lines[0])
	assert.Equal(t, "Sekolah", lines[3])
}
