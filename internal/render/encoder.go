package render

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/boombuler/barcode/qr"
)

// Encoder turns a payload into a PNG image of a scannable code.
type Encoder interface {
	Encode(payload string) ([]byte, error)
	// Size returns the printed width and height in millimetres.
	Size() (w, h float64)
}

// QREncoder renders QR codes with error correction level M.
type QREncoder struct {
	Pixels int     // image edge in pixels
	Edge   float64 // printed edge in mm
}

// NewQREncoder returns the default QR encoder.
func NewQREncoder() *QREncoder {
	return &QREncoder{Pixels: 280, Edge: 40}
}

// Encode implements Encoder.
func (e *QREncoder) Encode(payload string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("qr: empty payload")
	}
	code, err := qr.Encode(payload, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("qr: %w", err)
	}
	return scaleToPNG(code, e.Pixels, e.Pixels)
}

// Size implements Encoder.
func (e *QREncoder) Size() (float64, float64) { return e.Edge, e.Edge }

// Code128Encoder renders linear Code 128 barcodes.
type Code128Encoder struct {
	Width, Height  int     // pixels
	PrintW, PrintH float64 // mm
}

// NewCode128Encoder returns the default linear encoder.
func NewCode128Encoder() *Code128Encoder {
	return &Code128Encoder{Width: 600, Height: 120, PrintW: 80, PrintH: 16}
}

// Encode implements Encoder.
func (e *Code128Encoder) Encode(payload string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("code128: empty payload")
	}
	code, err := code128.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("code128: %w", err)
	}
	return scaleToPNG(code, e.Width, e.Height)
}

// Size implements Encoder.
func (e *Code128Encoder) Size() (float64, float64) { return e.PrintW, e.PrintH }

func scaleToPNG(code barcode.Barcode, w, h int) ([]byte, error) {
	scaled, err := barcode.Scale(code, w, h)
	if err != nil {
		return nil, fmt.Errorf("scale: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("png: %w", err)
	}
	return buf.Bytes(), nil
}
