package vision

import (
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/ldmsolve/ldmsolve/ml"
)

func TestToTensorRange(t *testing.T) {
	img, _ := LoadImageFromBytes(createPNGBytes(4, 4, color.RGBA{255, 0, 127, 255}))

	tensor := ToTensor(img)
	wantShape := []int{1, 3, 4, 4}
	for i, s := range wantShape {
		if tensor.Shape[i] != s {
			t.Fatalf("shape = %v, want %v", tensor.Shape, wantShape)
		}
	}

	// red channel saturated -> 1, green empty -> -1
	if got := tensor.Data[0]; math.Abs(got-1) > 1e-9 {
		t.Errorf("red = %v, want 1", got)
	}
	if got := tensor.Data[16]; math.Abs(got+1) > 1e-9 {
		t.Errorf("green = %v, want -1", got)
	}
}

func TestFromTensorRoundTrip(t *testing.T) {
	img, _ := LoadImageFromBytes(createPNGBytes(8, 8, color.RGBA{200, 100, 50, 255}))
	tensor := ToTensor(img)

	// map [-1,1] back to [0,1] as the solver output does
	for i, v := range tensor.Data {
		tensor.Data[i] = v/2 + 0.5
	}

	back, err := FromTensor(tensor)
	if err != nil {
		t.Fatalf("FromTensor() error = %v", err)
	}

	r, g, b, _ := back.At(3, 3).RGBA()
	if uint8(r>>8) != 200 || uint8(g>>8) != 100 || uint8(b>>8) != 50 {
		t.Errorf("pixel = (%d,%d,%d), want (200,100,50)", r>>8, g>>8, b>>8)
	}
}

func TestFromTensorRejectsBadShape(t *testing.T) {
	if _, err := FromTensor(ml.New(1, 4, 2, 2)); err == nil {
		t.Error("expected error for non-RGB tensor")
	}
}

func TestMaskTensor(t *testing.T) {
	img, _ := LoadImageFromBytes(createPNGBytes(2, 2, color.White))
	mask := MaskTensor(img)

	if mask.Shape[1] != 1 {
		t.Fatalf("mask shape = %v, want single channel", mask.Shape)
	}
	for i, v := range mask.Data {
		if v != 1 {
			t.Errorf("mask[%d] = %v, want 1 for white input", i, v)
		}
	}

	dark, _ := LoadImageFromBytes(createPNGBytes(2, 2, color.Black))
	for i, v := range MaskTensor(dark).Data {
		if v != 0 {
			t.Errorf("mask[%d] = %v, want 0 for black input", i, v)
		}
	}
}

func TestSavePNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.png")

	tensor := ml.Full(0.5, 1, 3, 4, 4)
	if err := SavePNG(tensor, path); err != nil {
		t.Fatalf("SavePNG() error = %v", err)
	}

	img, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage() error = %v", err)
	}
	if img.Width != 4 || img.Height != 4 {
		t.Errorf("size = %dx%d, want 4x4", img.Width, img.Height)
	}
}
