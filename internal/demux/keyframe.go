package demux

// H.264 NAL unit type for an IDR slice (ITU-T H.264 Table 7-1).
const h264NALTypeIDR = 5

// HEVC IRAP NAL unit type range (ITU-T H.265 Table 7-1): BLA_W_LP (16)
// through CRA_NUT (21).
const (
	hevcNALIRAPFirst = 16
	hevcNALIRAPLast  = 21
)

// KeyframeScanner reports whether an elementary-stream payload contains a
// random access point. Implementations are selected once per session from
// the configured codec and must be side-effect free.
type KeyframeScanner interface {
	// ContainsKeyframe scans payload in a single forward pass.
	ContainsKeyframe(payload []byte) bool
}

// ScannerForCodec returns the scanner matching the codec tag. Unrecognized
// codecs get a pass-through scanner that accepts every payload, so a codec
// this package does not know about never blackholes the stream.
func ScannerForCodec(codec string) KeyframeScanner {
	switch codec {
	case "h264":
		return h264Scanner{}
	case "hevc", "h265":
		return hevcScanner{}
	default:
		return passScanner{}
	}
}

type h264Scanner struct{}

func (h264Scanner) ContainsKeyframe(payload []byte) bool {
	for i, n := 0, len(payload); i < n-3; {
		start := startCodeLen(payload[i:])
		if start == 0 {
			i++
			continue
		}
		if i+start < n {
			// NAL header: forbidden(1) | ref_idc(2) | type(5)
			if payload[i+start]&0x1F == h264NALTypeIDR {
				return true
			}
		}
		i += start
	}
	return false
}

type hevcScanner struct{}

func (hevcScanner) ContainsKeyframe(payload []byte) bool {
	for i, n := 0, len(payload); i < n-3; {
		start := startCodeLen(payload[i:])
		if start == 0 {
			i++
			continue
		}
		if i+start < n {
			// HEVC NAL header byte 0: forbidden(1) | type(6) | layerID_high(1)
			typ := (payload[i+start] >> 1) & 0x3F
			if typ >= hevcNALIRAPFirst && typ <= hevcNALIRAPLast {
				return true
			}
		}
		i += start
	}
	return false
}

type passScanner struct{}

func (passScanner) ContainsKeyframe([]byte) bool { return true }

// startCodeLen returns the Annex B start code length at the head of b
// (3 for 00 00 01, 4 for 00 00 00 01), or 0 when b does not begin with one.
func startCodeLen(b []byte) int {
	if len(b) < 3 || b[0] != 0 || b[1] != 0 {
		return 0
	}
	if b[2] == 1 {
		return 3
	}
	if len(b) >= 4 && b[2] == 0 && b[3] == 1 {
		return 4
	}
	return 0
}
