package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func createPNGBytes(w, h int, c color.Color) []byte {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rgba.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, rgba)
	return buf.Bytes()
}

func TestLoadImageFromBytes(t *testing.T) {
	pngData := createPNGBytes(100, 50, color.RGBA{255, 0, 0, 255})

	img, err := LoadImageFromBytes(pngData)
	if err != nil {
		t.Fatalf("LoadImageFromBytes() error = %v", err)
	}

	if img.Width != 100 || img.Height != 50 {
		t.Errorf("size = %dx%d, want 100x50", img.Width, img.Height)
	}
	if img.Format != FormatPNG {
		t.Errorf("format = %v, want %v", img.Format, FormatPNG)
	}
}

func TestLoadImageFromBytesInvalid(t *testing.T) {
	if _, err := LoadImageFromBytes([]byte{0x00, 0x00, 0x00, 0x00}); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestDecodeImage(t *testing.T) {
	img, err := DecodeImage(bytes.NewReader(createPNGBytes(80, 60, color.White)))
	if err != nil {
		t.Fatalf("DecodeImage() error = %v", err)
	}
	if img.Width != 80 || img.Height != 60 {
		t.Errorf("size = %dx%d, want 80x60", img.Width, img.Height)
	}
}

func TestResizeImage(t *testing.T) {
	img, _ := LoadImageFromBytes(createPNGBytes(100, 100, color.White))

	resized, err := ResizeImage(img, 50, 50)
	if err != nil {
		t.Fatalf("ResizeImage() error = %v", err)
	}
	if resized.Width != 50 || resized.Height != 50 {
		t.Errorf("size = %dx%d, want 50x50", resized.Width, resized.Height)
	}

	if _, err := ResizeImage(img, 0, 50); err == nil {
		t.Error("expected error for zero width")
	}
}

func TestCenterCrop(t *testing.T) {
	img, _ := LoadImageFromBytes(createPNGBytes(100, 100, color.White))

	cropped, err := CenterCrop(img, 40, 40)
	if err != nil {
		t.Fatalf("CenterCrop() error = %v", err)
	}
	if cropped.Width != 40 || cropped.Height != 40 {
		t.Errorf("size = %dx%d, want 40x40", cropped.Width, cropped.Height)
	}

	if _, err := CenterCrop(img, 200, 40); err == nil {
		t.Error("expected error for oversized crop")
	}
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want ImageFormat
	}{
		{"png", createPNGBytes(2, 2, color.White), FormatPNG},
		{"jpeg magic", []byte{0xFF, 0xD8, 0xFF, 0xE0}, FormatJPEG},
		{"short", []byte{0x89}, FormatUnknown},
		{"garbage", []byte{1, 2, 3, 4, 5}, FormatUnknown},
	}
	for _, tc := range cases {
		if got := DetectFormat(tc.data); got != tc.want {
			t.Errorf("%s: DetectFormat = %v, want %v", tc.name, got, tc.want)
		}
	}
}
