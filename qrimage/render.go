// Package qrimage renders participant status links as PNG QR codes.
package qrimage

import (
	"bytes"
	"errors"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/skip2/go-qrcode"
)

const (
	DefaultSize   = 220
	DefaultMargin = 16
)

var ErrEmptyContent = errors.New("qr content is empty")

// Options controls the rendered image. Zero values take the defaults; a nil Level means Medium.
type Options struct {
	Size   int
	Margin int
	Level  *qrcode.RecoveryLevel
}

// WithLevel returns the address of l for Options.Level.
func WithLevel(l qrcode.RecoveryLevel) *qrcode.RecoveryLevel {
	return &l
}

// Render encodes content as a square QR code of Size pixels framed by a white Margin on every side.
func Render(content string, opts Options) ([]byte, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Margin < 0 {
		opts.Margin = 0
	} else if opts.Margin == 0 {
		opts.Margin = DefaultMargin
	}
	level := qrcode.Medium
	if opts.Level != nil {
		level = *opts.Level
	}

	q, err := qrcode.New(content, level)
	if err != nil {
		return nil, err
	}
	q.DisableBorder = true
	code := imaging.Resize(q.Image(opts.Size), opts.Size, opts.Size, imaging.NearestNeighbor)

	side := opts.Size + 2*opts.Margin
	canvas := imaging.New(side, side, color.White)
	framed := imaging.Paste(canvas, code, image.Pt(opts.Margin, opts.Margin))

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, framed, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileName is the download name offered for a participant's code.
func FileName(id string) string {
	return id + ".png"
}
