// Package media prepares and uploads image message artifacts: a re-encoded
// full-size JPEG and a 200×200 thumbnail per source image.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
)

var (
	ErrImageTooLarge = errors.New("image exceeds the 10 MiB limit")
	ErrBadImage      = errors.New("payload is not a decodable image")
)

// MaxImageBytes is the hard cap on source image size, enforced before any
// upload happens.
const MaxImageBytes = 10 << 20

const (
	fullQuality  = 85
	thumbQuality = 70
	thumbSize    = 200
)

// Uploader is the object storage boundary: content goes in, a retrievable URL
// comes out.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte) (string, error)
}

// Processor compresses images and pushes the derived artifacts to object
// storage.
type Processor struct {
	logger   *zap.SugaredLogger
	uploader Uploader
}

func NewProcessor(logger *zap.SugaredLogger, uploader Uploader) *Processor {
	return &Processor{logger: logger, uploader: uploader}
}

// Result carries the two uploaded artifact URLs of one image.
type Result struct {
	ImageURL     string
	ThumbnailURL string
}

// UploadImage validates, compresses and uploads the image plus its thumbnail.
// Oversized input is rejected before a single byte reaches object storage.
func (p *Processor) UploadImage(ctx context.Context, chatID, messageID string, data []byte) (Result, error) {
	full, thumb, err := prepare(data)
	if err != nil {
		return Result{}, err
	}

	basePath := fmt.Sprintf("chats/%s/messages/%s", chatID, messageID)

	imageURL, err := p.uploader.Upload(ctx, basePath+"/image.jpg", full)
	if err != nil {
		return Result{}, fmt.Errorf("uploading image: %w", err)
	}
	thumbURL, err := p.uploader.Upload(ctx, basePath+"/thumb.jpg", thumb)
	if err != nil {
		return Result{}, fmt.Errorf("uploading thumbnail: %w", err)
	}

	p.logger.Debugf("Uploaded image for message %s (%d bytes full, %d bytes thumb)",
		messageID, len(full), len(thumb))

	return Result{ImageURL: imageURL, ThumbnailURL: thumbURL}, nil
}

// prepare decodes the source and produces the compressed full image and the
// 200×200 thumbnail.
func prepare(data []byte) (full, thumb []byte, err error) {
	if len(data) > MaxImageBytes {
		return nil, nil, ErrImageTooLarge
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}

	var fullBuf bytes.Buffer
	if err := jpeg.Encode(&fullBuf, src, &jpeg.Options{Quality: fullQuality}); err != nil {
		return nil, nil, fmt.Errorf("encoding image: %w", err)
	}

	var thumbBuf bytes.Buffer
	if err := jpeg.Encode(&thumbBuf, scaleThumb(src), &jpeg.Options{Quality: thumbQuality}); err != nil {
		return nil, nil, fmt.Errorf("encoding thumbnail: %w", err)
	}

	return fullBuf.Bytes(), thumbBuf.Bytes(), nil
}

// scaleThumb center-crops the source to a square and scales it down to
// thumbSize×thumbSize.
func scaleThumb(src image.Image) image.Image {
	b := src.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2
	crop := image.Rect(x0, y0, x0+side, y0+side)

	dst := image.NewRGBA(image.Rect(0, 0, thumbSize, thumbSize))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, crop, draw.Over, nil)
	return dst
}
