package liveserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildHello(port uint16, name string, players, max byte, flags byte, version string) []byte {
	buf := make([]byte, HelloSize)
	buf[0] = byte(port)
	buf[1] = byte(port >> 8)
	copy(buf[2:35], []byte(name))
	for i := len(name); i < 33; i++ {
		buf[2+i] = 0x20
	}
	buf[35] = players
	buf[36] = max
	buf[37] = flags
	copy(buf[38:42], []byte(version))
	return buf
}

func TestParseHello_Scenario1(t *testing.T) {
	buf := buildHello(10112, "testsrv", 1, 32, 0, "24  ")
	hello, err := ParseHello(buf)
	require.NoError(t, err)
	require.Equal(t, 10112, hello.Port)
	require.Equal(t, "testsrv", hello.Name)
	require.Equal(t, 1, hello.Players)
	require.Equal(t, 32, hello.Max)
	require.False(t, hello.Private)
	require.False(t, hello.PlusOnly)
	require.Equal(t, "1.24  ", hello.Version)
}

func TestParseHello_VersionTag21MapsTo123(t *testing.T) {
	buf := buildHello(1, "x", 0, 32, 0, "21a")
	hello, err := ParseHello(buf)
	require.NoError(t, err)
	// buildHello leaves the unused fourth tag byte as NUL, which is appended
	// verbatim like the rest of the tag.
	require.Equal(t, "1.23a\x00", hello.Version)
}

func TestParseHello_Flags(t *testing.T) {
	// bit0 private, bits1-5 = mode 3, bit7 plusonly
	flags := byte(0x01) | byte(3<<1) | byte(0x80)
	buf := buildHello(1, "x", 0, 32, flags, "24  ")
	hello, err := ParseHello(buf)
	require.NoError(t, err)
	require.True(t, hello.Private)
	require.True(t, hello.PlusOnly)
	require.Equal(t, 3, hello.ModeCode)
}

func TestParseHello_WrongLength(t *testing.T) {
	_, err := ParseHello(make([]byte, 10))
	require.Error(t, err)
}

func TestParseHello_EmbeddedNulTruncatesName(t *testing.T) {
	buf := buildHello(1, "trunc\x00garbage", 0, 32, 0, "24  ")
	hello, err := ParseHello(buf)
	require.NoError(t, err)
	require.Equal(t, "trunc", hello.Name)
}
