// Package favicon decodes and normalizes the optional MOTD favicon data
// URL (spec.md §9 Open Question: "specify an upper bound ... or pass
// through opaquely"). This port enforces an upper bound and normalizes
// oversized/odd PNGs to the standard 64x64 favicon using
// github.com/nfnt/resize, following the real upstream Gate project's own
// favicon pipeline (its go.mod carries nfnt/resize for exactly this).
package favicon

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"

	"github.com/nfnt/resize"
)

// DefaultMaxBytes is the default upper bound on decoded favicon bytes
// (spec.md §9 suggests "e.g. 256 KiB").
const DefaultMaxBytes = 256 * 1024

const targetSize = 64

// ErrTooLarge is returned when a favicon's decoded size exceeds the
// configured bound.
var ErrTooLarge = errors.New("favicon: decoded image exceeds size bound")

const dataURLPrefix = "data:image/png;base64,"

// Process validates and, if necessary, resizes a favicon data URL. Empty
// input is returned unchanged (no favicon set). maxBytes <= 0 selects
// DefaultMaxBytes.
func Process(dataURL string, maxBytes int) (string, error) {
	if dataURL == "" {
		return "", nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if !strings.HasPrefix(dataURL, dataURLPrefix) {
		return "", fmt.Errorf("favicon: unsupported data URL prefix")
	}
	raw, err := base64.StdEncoding.DecodeString(dataURL[len(dataURLPrefix):])
	if err != nil {
		return "", fmt.Errorf("favicon: invalid base64: %w", err)
	}
	if len(raw) > maxBytes {
		return "", ErrTooLarge
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		// Not a decodable PNG; pass through opaquely rather than reject,
		// since spec.md explicitly allows "pass through opaquely".
		return dataURL, nil
	}
	b := img.Bounds()
	if b.Dx() == targetSize && b.Dy() == targetSize {
		return dataURL, nil
	}

	resized := resize.Resize(targetSize, targetSize, img, resize.Lanczos3)
	var out bytes.Buffer
	if err := png.Encode(&out, resized); err != nil {
		return "", fmt.Errorf("favicon: re-encode failed: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(out.Bytes()), nil
}
