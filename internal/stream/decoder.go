package stream

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/vp8"
)

// ErrNotKeyframe marks samples the decoder cannot reconstruct on its own.
// The pipeline drops them; the next keyframe resynchronizes the stream.
var ErrNotKeyframe = errors.New("not a keyframe")

// FrameDecoder turns a depacketized video sample into an image.
type FrameDecoder interface {
	Decode(sample []byte) (image.Image, error)
}

// VP8Decoder decodes VP8 keyframes. Inter frames need reference-frame
// state the pure Go decoder does not keep, so they are rejected.
type VP8Decoder struct {
	dec *vp8.Decoder
}

func NewVP8Decoder() *VP8Decoder {
	return &VP8Decoder{dec: vp8.NewDecoder()}
}

func (d *VP8Decoder) Decode(sample []byte) (image.Image, error) {
	if len(sample) == 0 {
		return nil, fmt.Errorf("empty sample")
	}

	d.dec.Init(bytes.NewReader(sample), len(sample))
	fh, err := d.dec.DecodeFrameHeader()
	if err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}
	if !fh.KeyFrame {
		return nil, ErrNotKeyframe
	}

	img, err := d.dec.DecodeFrame()
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}
