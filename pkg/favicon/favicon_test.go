package favicon

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestProcessEmptyPassesThrough(t *testing.T) {
	out, err := Process("", 0)
	require.NoError(t, err)
	require.Equal(t, "", out)
}

func TestProcessAlreadyCorrectSizeUnchanged(t *testing.T) {
	in := encodePNG(t, 64, 64)
	out, err := Process(in, 0)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestProcessResizesOddDimensions(t *testing.T) {
	in := encodePNG(t, 128, 32)
	out, err := Process(in, 0)
	require.NoError(t, err)
	require.NotEqual(t, in, out)

	raw, err := base64.StdEncoding.DecodeString(out[len(dataURLPrefix):])
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, targetSize, img.Bounds().Dx())
	require.Equal(t, targetSize, img.Bounds().Dy())
}

func TestProcessRejectsOversizedPayload(t *testing.T) {
	in := encodePNG(t, 512, 512)
	_, err := Process(in, 16)
	require.ErrorIs(t, err, ErrTooLarge)
}
