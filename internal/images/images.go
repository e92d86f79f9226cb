// Package images downloads product images and bounds their dimensions
// before they are handed to the store media upload.
package images

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/disintegration/imaging"

	"github.com/avdeev/poizon-sync/internal/config"
)

// Processed is one downloaded, bounded, JPEG-encoded image.
type Processed struct {
	Filename string
	Data     []byte
	Width    int
	Height   int
}

// Processor fetches and resizes images.
type Processor struct {
	httpClient *http.Client
	maxWidth   int
	maxHeight  int
	logger     *slog.Logger
}

// New creates a Processor with the configured bounds.
func New(cfg config.ImagesConfig, logger *slog.Logger) *Processor {
	maxW, maxH := cfg.MaxWidth, cfg.MaxHeight
	if maxW <= 0 {
		maxW = 1200
	}
	if maxH <= 0 {
		maxH = 1200
	}
	return &Processor{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxWidth:   maxW,
		maxHeight:  maxH,
		logger:     logger.With("component", "image_processor"),
	}
}

// Process downloads one image, scales it down to fit the bounds when it
// exceeds them, and re-encodes it as JPEG.
func (p *Processor) Process(ctx context.Context, imageURL string) (*Processed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image %s: %w", imageURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download returned %d for %s", resp.StatusCode, imageURL)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", imageURL, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > p.maxWidth || bounds.Dy() > p.maxHeight {
		img = imaging.Fit(img, p.maxWidth, p.maxHeight, imaging.Lanczos)
		p.logger.Debug("image resized",
			"url", imageURL,
			"from_width", bounds.Dx(), "from_height", bounds.Dy(),
			"to_width", img.Bounds().Dx(), "to_height", img.Bounds().Dy())
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &Processed{
		Filename: filenameFor(imageURL),
		Data:     buf.Bytes(),
		Width:    img.Bounds().Dx(),
		Height:   img.Bounds().Dy(),
	}, nil
}

// filenameFor derives a JPEG filename from the source URL path.
func filenameFor(imageURL string) string {
	name := "image.jpg"
	if u, err := url.Parse(imageURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			name = base
		}
	}
	ext := path.Ext(name)
	if ext == "" {
		return name + ".jpg"
	}
	if ext != ".jpg" && ext != ".jpeg" {
		return name[:len(name)-len(ext)] + ".jpg"
	}
	return name
}
