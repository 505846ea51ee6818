package qrimg

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// Renderer turns identity payloads into QR code images stored alongside the
// user record.
type Renderer struct {
	size int
}

// New creates a renderer producing size x size pixel PNGs.
func New(size int) *Renderer {
	if size <= 0 {
		size = 256
	}
	return &Renderer{size: size}
}

// DataURI renders the payload as a PNG data URI.
func (r *Renderer) DataURI(payload string) (string, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, r.size)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
