// Package cracker extracts text and images from PDF documents for
// multimodal ingestion.
package cracker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sort"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/finvault/bankrag/internal/models"
)

type Config struct {
	// MinImageDim filters out tiny icons, logos and bullets.
	MinImageDim int
}

type Cracker struct {
	config Config
}

func NewWithConfig(config Config) *Cracker {
	if config.MinImageDim == 0 {
		config.MinImageDim = 100
	}
	return &Cracker{config: config}
}

var captionKeywords = []string{"figure", "chart", "graph", "table", "exhibit", "fig."}

// Crack extracts all pages of a PDF: text via the content streams and
// embedded raster images, with small images filtered out.
func (c *Cracker) Crack(ctx context.Context, data []byte, filename string) (*models.CrackedDocument, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF %s: %w", filename, err)
	}

	pageCount := pdfCtx.PageCount
	logCtx := slog.With("filename", filename, "pages", pageCount)
	logCtx.Info("Cracking document")

	pages := make([]models.PageContent, 0, pageCount)
	for pageNr := 1; pageNr <= pageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := models.PageContent{PageNumber: pageNr}

		r, err := pdfcpu.ExtractPageContent(pdfCtx, pageNr)
		if err != nil {
			logCtx.Warn("Failed to extract page content", "page", pageNr, "error", err)
		} else if r != nil {
			raw, err := io.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("failed to read page %d content: %w", pageNr, err)
			}
			page.Text = decodePageText(raw)
		}

		page.Images = c.extractImages(pdfCtx, pageNr, page.Text)
		pages = append(pages, page)
	}

	doc := &models.CrackedDocument{
		Filename:   filename,
		TotalPages: len(pages),
		Pages:      pages,
		Metadata:   models.DocumentMetadata{Title: filename},
	}

	totalImages := 0
	totalChars := 0
	for _, p := range pages {
		totalImages += len(p.Images)
		totalChars += len(p.Text)
	}
	logCtx.Info("Cracked document", "chars", totalChars, "images", totalImages)

	return doc, nil
}

func (c *Cracker) extractImages(pdfCtx *model.Context, pageNr int, pageText string) []models.ExtractedImage {
	found, err := pdfcpu.ExtractPageImages(pdfCtx, pageNr, false)
	if err != nil {
		slog.Warn("Failed to extract page images", "page", pageNr, "error", err)
		return nil
	}

	// Map iteration order is random; keep image indices stable.
	objNrs := make([]int, 0, len(found))
	for objNr := range found {
		objNrs = append(objNrs, objNr)
	}
	sort.Ints(objNrs)

	caption := findCaption(pageText)

	var images []models.ExtractedImage
	for idx, objNr := range objNrs {
		img := found[objNr]

		data, err := io.ReadAll(img)
		if err != nil {
			slog.Warn("Failed to read image", "page", pageNr, "object", objNr, "error", err)
			continue
		}

		width, height := imageDims(data)
		if width > 0 && (width < c.config.MinImageDim || height < c.config.MinImageDim) {
			continue
		}

		images = append(images, models.ExtractedImage{
			Data:       data,
			Format:     img.FileType,
			Width:      width,
			Height:     height,
			PageNumber: pageNr,
			Index:      idx,
			Caption:    caption,
		})
	}

	return images
}

// imageDims decodes just the image header. Formats the stdlib cannot
// decode report 0x0 and pass the size filter unchecked.
func imageDims(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// findCaption looks for a line of page text that reads like a figure or
// chart caption.
func findCaption(pageText string) string {
	for _, line := range strings.Split(pageText, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		if lower == "" {
			continue
		}
		for _, kw := range captionKeywords {
			if strings.Contains(lower, kw) {
				caption := strings.TrimSpace(line)
				if len(caption) > 200 {
					caption = caption[:200]
				}
				return caption
			}
		}
	}
	return ""
}
