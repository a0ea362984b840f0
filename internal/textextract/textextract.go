// Package textextract defines the TextExtractor collaborator boundary
// (spec.md §1): per-format text extraction, optionally via OCR, is treated
// as a black-box the ingestion pipeline calls through this interface. No
// concrete OCR engine is implemented here — that is explicitly out of
// scope — only the interface and a trivial pass-through usable for
// already-text content and in tests.
package textextract

import (
	"context"
	"time"
)

// Mode mirrors spec.md §4.7.3's ocr_mode values.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeAlways   Mode = "always"
	ModeNever    Mode = "never"
	ModeFallback Mode = "fallback"
	ModeTextOnly Mode = "text_only"
)

// Result is what a TextExtractor returns: extracted text plus the
// provenance metadata the document's Extraction field records.
type Result struct {
	Text       string
	Method     string
	Engine     string
	Confidence float64
	Duration   time.Duration
	Metadata   map[string]any
}

// Extractor is the black-box collaborator. useOCR is true unless mode is
// ModeTextOnly; progressContext carries the raw mode string through for
// engines that branch on "fallback" (try text extraction first, then OCR
// if empty).
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte, useOCR bool, progressContext Mode) (Result, error)
}

// PassThrough treats input bytes as already-decoded UTF-8 text. Useful for
// already-text content and as the default in tests; never invokes OCR.
type PassThrough struct{}

func (PassThrough) Extract(_ context.Context, _ string, data []byte, _ bool, _ Mode) (Result, error) {
	return Result{
		Text:   string(data),
		Method: "pass_through",
		Engine: "none",
	}, nil
}

var _ Extractor = PassThrough{}
