package vision

import "errors"

// ImageFormat is a supported image container format.
type ImageFormat string

const (
	FormatJPEG    ImageFormat = "jpeg"
	FormatPNG     ImageFormat = "png"
	FormatWebP    ImageFormat = "webp"
	FormatUnknown ImageFormat = "unknown"
)

var (
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47}
	magicWebP = []byte{0x52, 0x49, 0x46, 0x46} // "RIFF"
)

var (
	ErrUnknownFormat     = errors.New("vision: unknown image format")
	ErrUnsupportedFormat = errors.New("vision: unsupported image format")
)

// DetectFormat identifies the format from magic bytes.
func DetectFormat(data []byte) ImageFormat {
	if len(data) < 4 {
		return FormatUnknown
	}
	if matchesMagic(data, magicJPEG) {
		return FormatJPEG
	}
	if matchesMagic(data, magicPNG) {
		return FormatPNG
	}
	if matchesMagic(data, magicWebP) && isValidWebP(data) {
		return FormatWebP
	}
	return FormatUnknown
}

func matchesMagic(data, magic []byte) bool {
	if len(data) < len(magic) {
		return false
	}
	for i, b := range magic {
		if data[i] != b {
			return false
		}
	}
	return true
}

func isValidWebP(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	// RIFF....WEBP
	return data[8] == 'W' && data[9] == 'E' && data[10] == 'B' && data[11] == 'P'
}

// ValidateFormat rejects formats the decoder cannot handle.
func ValidateFormat(format ImageFormat) error {
	switch format {
	case FormatJPEG, FormatPNG, FormatWebP:
		return nil
	case FormatUnknown:
		return ErrUnknownFormat
	default:
		return ErrUnsupportedFormat
	}
}

// Extension returns the usual file extension for the format.
func (f ImageFormat) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	default:
		return ".bin"
	}
}

func (f ImageFormat) String() string {
	return string(f)
}
