package serial

import (
	"strings"
	"unicode/utf8"
)

// decoder turns raw reads into text. A multi-byte character split across
// reads is held back until it is complete; invalid bytes become U+FFFD.
type decoder struct {
	pending []byte
}

func (d *decoder) decode(p []byte) string {
	data := append(d.pending, p...)

	cut := len(data)
	for i := len(data) - 1; i >= 0 && i > len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}

	text := strings.ToValidUTF8(string(data[:cut]), string(utf8.RuneError))
	d.pending = append(d.pending[:0], data[cut:]...)
	return text
}

// flush returns whatever is still held back.
func (d *decoder) flush() string {
	if len(d.pending) == 0 {
		return ""
	}
	text := strings.ToValidUTF8(string(d.pending), string(utf8.RuneError))
	d.pending = d.pending[:0]
	return text
}
