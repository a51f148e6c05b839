package ocr

import (
	"bytes"
	"encoding/binary"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// DetectDPI reads the horizontal pixel density stored in a PNG pHYs chunk or
// a JPEG JFIF header. It returns 0 when the image carries none.
func DetectDPI(data []byte) float64 {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return pngDPI(data[len(pngSignature):])
	case len(data) > 2 && data[0] == 0xFF && data[1] == 0xD8:
		return jfifDPI(data[2:])
	}
	return 0
}

func pngDPI(b []byte) float64 {
	for len(b) >= 12 {
		n := int(binary.BigEndian.Uint32(b[0:4]))
		typ := string(b[4:8])
		if n < 0 || len(b) < 12+n {
			return 0
		}
		switch typ {
		case "pHYs":
			if n < 9 {
				return 0
			}
			ppu := binary.BigEndian.Uint32(b[8:12])
			if b[16] != 1 { // unit is unknown, only the aspect ratio is meaningful
				return 0
			}
			return float64(ppu) * 0.0254
		case "IDAT", "IEND":
			return 0
		}
		b = b[12+n:]
	}
	return 0
}

func jfifDPI(b []byte) float64 {
	for len(b) >= 4 && b[0] == 0xFF {
		marker := b[1]
		if marker == 0xDA || marker == 0xD9 { // start of scan, end of image
			return 0
		}
		n := int(binary.BigEndian.Uint16(b[2:4]))
		if n < 2 || len(b) < 2+n {
			return 0
		}
		seg := b[4 : 2+n]
		if marker == 0xE0 && len(seg) >= 12 && bytes.HasPrefix(seg, []byte("JFIF\x00")) {
			units := seg[7]
			x := float64(binary.BigEndian.Uint16(seg[8:10]))
			switch units {
			case 1:
				return x
			case 2:
				return x * 2.54
			}
			return 0
		}
		b = b[2+n:]
	}
	return 0
}
