package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/ldmsolve/ldmsolve/ml"
)

// ToTensor converts the image to a [1,3,H,W] tensor with values mapped from
// [0,255] to [-1,1], the range the diffusion backbone expects.
func ToTensor(img *ImageInput) *ml.Tensor {
	h, w := img.Height, img.Width
	out := ml.New(1, 3, h, w)
	plane := h * w

	bounds := img.Image.Bounds()
	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.Image.At(x, y).RGBA()
			out.Data[idx] = float64(r>>8)/127.5 - 1
			out.Data[plane+idx] = float64(g>>8)/127.5 - 1
			out.Data[2*plane+idx] = float64(b>>8)/127.5 - 1
			idx++
		}
	}
	return out
}

// FromTensor converts a [1,3,H,W] tensor with values in [0,1] back to an
// image. Values outside the range are clipped.
func FromTensor(t *ml.Tensor) (*image.RGBA, error) {
	if len(t.Shape) != 4 || t.Shape[0] != 1 || t.Shape[1] != 3 {
		return nil, fmt.Errorf("vision: expected [1,3,H,W] tensor, got %v", t.Shape)
	}
	h, w := t.Shape[2], t.Shape[3]
	plane := h * w

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			img.SetRGBA(x, y, color.RGBA{
				R: toByte(t.Data[idx]),
				G: toByte(t.Data[plane+idx]),
				B: toByte(t.Data[2*plane+idx]),
				A: 255,
			})
		}
	}
	return img, nil
}

func toByte(v float64) uint8 {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return uint8(v*255 + 0.5)
}

// MaskTensor converts the image to a binary [1,1,H,W] mask: pixels with
// luminance above half intensity become 1.
func MaskTensor(img *ImageInput) *ml.Tensor {
	h, w := img.Height, img.Width
	out := ml.New(1, 1, h, w)

	bounds := img.Image.Bounds()
	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.Image.At(x, y).RGBA()
			lum := (float64(r>>8) + float64(g>>8) + float64(b>>8)) / 3
			if lum >= 128 {
				out.Data[idx] = 1
			}
			idx++
		}
	}
	return out
}

// SavePNG writes a [1,3,H,W] tensor with values in [0,1] as a PNG file.
func SavePNG(t *ml.Tensor, path string) error {
	img, err := FromTensor(t)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	return f.Close()
}
