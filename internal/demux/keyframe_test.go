package demux

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScannerForCodec(t *testing.T) {
	require.IsType(t, h264Scanner{}, ScannerForCodec("h264"))
	require.IsType(t, hevcScanner{}, ScannerForCodec("hevc"))
	require.IsType(t, hevcScanner{}, ScannerForCodec("h265"))
	require.IsType(t, passScanner{}, ScannerForCodec("mjpeg"))
	require.IsType(t, passScanner{}, ScannerForCodec(""))
}

var casesH264 = []struct {
	name    string
	payload []byte
	want    bool
}{
	{
		"idr after 4-byte start code",
		[]byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84},
		true,
	},
	{
		"idr after 3-byte start code",
		[]byte{0x00, 0x00, 0x01, 0x65, 0x88},
		true,
	},
	{
		"idr preceded by non-idr units",
		[]byte{
			0x00, 0x00, 0x00, 0x01, 0x67, 0x42, // SPS
			0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, // PPS
			0x00, 0x00, 0x00, 0x01, 0x65, 0x88, // IDR
		},
		true,
	},
	{
		"non-idr slice only",
		[]byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9A},
		false,
	},
	{
		"no start code",
		[]byte{0x65, 0x88, 0x84, 0x00, 0x21, 0x3F},
		false,
	},
	{
		"empty",
		nil,
		false,
	},
	{
		"start code at end without nal header",
		[]byte{0x12, 0x00, 0x00, 0x01},
		false,
	},
}

func TestH264Scanner(t *testing.T) {
	for _, c := range casesH264 {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, h264Scanner{}.ContainsKeyframe(c.payload))
		})
	}
}

var casesHEVC = []struct {
	name    string
	payload []byte
	want    bool
}{
	{
		"bla_w_lp (16) after 4-byte start code",
		[]byte{0x00, 0x00, 0x00, 0x01, 0x20, 0x01, 0xAF},
		true,
	},
	{
		"idr_w_radl (19) after 3-byte start code",
		[]byte{0x00, 0x00, 0x01, 0x26, 0x01, 0xAF},
		true,
	},
	{
		"cra_nut (21), upper bound of irap range",
		[]byte{0x00, 0x00, 0x00, 0x01, 0x2A, 0x01},
		true,
	},
	{
		"type 22, just above irap range",
		[]byte{0x00, 0x00, 0x00, 0x01, 0x2C, 0x01},
		false,
	},
	{
		"trailing picture (type 1)",
		[]byte{0x00, 0x00, 0x00, 0x01, 0x02, 0x01},
		false,
	},
	{
		"irap after parameter sets",
		[]byte{
			0x00, 0x00, 0x00, 0x01, 0x40, 0x01, // VPS
			0x00, 0x00, 0x00, 0x01, 0x42, 0x01, // SPS
			0x00, 0x00, 0x00, 0x01, 0x26, 0x01, // IDR_W_RADL
		},
		true,
	},
	{
		"no start code",
		[]byte{0x26, 0x01, 0xAF, 0x08},
		false,
	},
}

func TestHEVCScanner(t *testing.T) {
	for _, c := range casesHEVC {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, hevcScanner{}.ContainsKeyframe(c.payload))
		})
	}
}

func TestPassScannerAcceptsEverything(t *testing.T) {
	require.True(t, passScanner{}.ContainsKeyframe(nil))
	require.True(t, passScanner{}.ContainsKeyframe([]byte{0xDE, 0xAD}))
}

func TestStartCodeLen(t *testing.T) {
	require.Equal(t, 3, startCodeLen([]byte{0x00, 0x00, 0x01, 0x65}))
	require.Equal(t, 4, startCodeLen([]byte{0x00, 0x00, 0x00, 0x01}))
	require.Equal(t, 0, startCodeLen([]byte{0x00, 0x00, 0x02}))
	require.Equal(t, 0, startCodeLen([]byte{0x00, 0x00}))
	require.Equal(t, 0, startCodeLen([]byte{0x00, 0x00, 0x00, 0x00}))
}
