package protocol

import "unicode/utf16"

// encodeModifiedUTF8 encodes s the way Java's DataOutput.writeUTF does:
// NUL becomes C0 80 and runes outside the BMP are written as two 3-byte
// surrogate sequences.
func encodeModifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			out = appendUnit(out, uint16(hi))
			out = appendUnit(out, uint16(lo))
			continue
		}
		out = appendUnit(out, uint16(r))
	}
	return out
}

func appendUnit(out []byte, c uint16) []byte {
	switch {
	case c != 0 && c < 0x80:
		return append(out, byte(c))
	case c < 0x800:
		return append(out,
			0xC0|byte(c>>6),
			0x80|byte(c&0x3F))
	default:
		return append(out,
			0xE0|byte(c>>12),
			0x80|byte((c>>6)&0x3F),
			0x80|byte(c&0x3F))
	}
}

// decodeModifiedUTF8 is the inverse of encodeModifiedUTF8. Unpaired
// surrogates decode to U+FFFD.
func decodeModifiedUTF8(b []byte) (string, error) {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c&0x80 == 0:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", ErrMalformedString
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", ErrMalformedString
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", ErrMalformedString
		}
	}
	return string(utf16.Decode(units)), nil
}
