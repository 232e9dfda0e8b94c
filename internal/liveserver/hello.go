package liveserver

import (
	"encoding/binary"
	"fmt"
)

// HelloSize is the fixed length of the AwaitingHello message (spec §4.6).
const HelloSize = 42

// Hello is the parsed form of the 42-byte hello message.
type Hello struct {
	Port     int
	Name     string
	Players  int
	Max      int
	Private  bool
	ModeCode int
	PlusOnly bool
	Version  string
}

// ParseHello decodes a 42-byte hello per the byte layout in spec §4.6:
//
//	0-1:   little-endian port
//	2-34:  33-byte name, truncated at embedded NUL
//	35:    players
//	36:    max
//	37:    flags (bit0=private, bits1-5=mode, bit7=plusonly)
//	38-41: version tag
func ParseHello(data []byte) (Hello, error) {
	if len(data) != HelloSize {
		return Hello{}, fmt.Errorf("hello: expected %d bytes, got %d", HelloSize, len(data))
	}

	port := int(binary.LittleEndian.Uint16(data[0:2]))

	nameBytes := data[2:35]
	if i := indexByte(nameBytes, 0); i >= 0 {
		nameBytes = nameBytes[:i]
	}

	flags := data[37]

	return Hello{
		Port:     port,
		Name:     string(nameBytes),
		Players:  int(data[35]),
		Max:      int(data[36]),
		Private:  flags&0x01 != 0,
		ModeCode: int((flags >> 1) & 0x1F),
		PlusOnly: flags&0x80 != 0,
		Version:  decodeVersion(data[38:42]),
	}, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// decodeVersion maps the first two characters of the 4-byte version tag to a
// base version string per spec §4.6, appending any remaining characters.
func decodeVersion(tag []byte) string {
	if len(tag) < 2 {
		return "1.24"
	}
	base := "1.24"
	if string(tag[:2]) == "21" {
		base = "1.23"
	}
	rest := string(tag[2:])
	return base + rest
}
