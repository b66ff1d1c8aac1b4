package covers

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder

	"github.com/bbrks/go-blurhash"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	// Uploaded covers are re-encoded as JPEG at this quality. Uniform output
	// keeps the serving path simple (always image/jpeg) and strips any
	// metadata the original carried.
	jpegQuality = 85

	// blurHashSize is the target size for BlurHash computation. BlurHash is
	// a low-resolution placeholder; a small thumbnail produces nearly
	// identical results in a fraction of the time.
	blurHashSize = 64

	// MaxUploadBytes caps cover upload size.
	MaxUploadBytes = 10 << 20 // 10 MiB
)

// Process decodes an uploaded cover image (JPEG, PNG, GIF, or WebP),
// re-encodes it as JPEG, and computes its BlurHash placeholder.
func Process(data []byte) (jpegData []byte, blurHash string, err error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}

	hash, err := computeBlurHash(img)
	if err != nil {
		return nil, "", fmt.Errorf("compute blurhash: %w", err)
	}

	return buf.Bytes(), hash, nil
}

// computeBlurHash generates a BlurHash string from a decoded image.
// 4x3 components are a good balance of size (~30 chars) and detail.
func computeBlurHash(img image.Image) (string, error) {
	return blurhash.Encode(4, 3, resizeForBlurHash(img))
}

// resizeForBlurHash creates a small thumbnail suitable for BlurHash
// computation. Nearest-neighbor scaling is fast and sufficient here.
func resizeForBlurHash(img image.Image) image.Image {
	bounds := img.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()

	if srcWidth <= blurHashSize && srcHeight <= blurHashSize {
		return img
	}

	var dstWidth, dstHeight int
	if srcWidth > srcHeight {
		dstWidth = blurHashSize
		dstHeight = max((srcHeight*blurHashSize)/srcWidth, 1)
	} else {
		dstHeight = blurHashSize
		dstWidth = max((srcWidth*blurHashSize)/srcHeight, 1)
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))

	xRatio := float64(srcWidth) / float64(dstWidth)
	yRatio := float64(srcHeight) / float64(dstHeight)

	for y := 0; y < dstHeight; y++ {
		for x := 0; x < dstWidth; x++ {
			srcX := int(float64(x) * xRatio)
			srcY := int(float64(y) * yRatio)
			dst.Set(x, y, img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}

	return dst
}
