package emit

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteBinaryEntry(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	writeBinaryEntry(w, []byte{192, 0, 2, 5}, 80, "hi")
	require.NoError(t, w.Flush())

	got := buf.Bytes()
	require.Equal(t, byte(2+7), got[0])
	require.Equal(t, []byte{5, 2, 0, 192}, got[1:5]) // reversed octets
	require.Equal(t, []byte{80, 0}, got[5:7])         // little-endian port
	require.Equal(t, "hi", string(got[7:]))
}

func TestBinaryListHeaderAndAdvertisements(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	w.Write([]byte{0x07, 'L', 'I', 'S', 'T', 0x01, 0x01})
	for _, ad := range advertisements {
		writeBinaryEntry(w, ad.ip[:], ad.port, ad.name)
	}
	require.NoError(t, w.Flush())

	got := buf.Bytes()
	require.Equal(t, []byte{0x07, 'L', 'I', 'S', 'T', 0x01, 0x01}, got[:7])

	// first advertisement: IP 192.0.2.0, reversed -> 0x00 0x02 0x00 0xC0, port 80 -> 0x50 0x00
	require.Equal(t, byte(len(advertisements[0].name)+7), got[7])
	require.Equal(t, []byte{0x00, 0x02, 0x00, 0xC0}, got[8:12])
	require.Equal(t, []byte{0x50, 0x00}, got[12:14])
}
