package ffmpegcmd

// RemuxSpec describes one remuxer invocation: two named-pipe elementary
// stream inputs and an RTSP publish target.
type RemuxSpec struct {
	Bin        string // ffmpeg binary path
	VideoPipe  string // raw video elementary stream FIFO
	AudioPipe  string // raw PCM audio FIFO
	VideoCodec string // input video format tag ("hevc" or "h264")
	RTSPURL    string // publish target
}

// FromSpec materializes a Builder for the canonical remuxer invocation.
//
// Ordering is stable to minimize operational surprises when diffing
// commands: global flags, video input, audio input, codec mapping, output.
//
// Codec policy mirrors the stream contract: video is copied as-is (the
// camera already emits H.264/HEVC) with parameter sets re-injected for
// players; audio is transcoded to AAC since the camera's PCM variant is not
// playable by most RTSP consumers.
func FromSpec(s RemuxSpec) *Builder {
	b := NewBuilder(s.Bin)

	// --- Global flags: low latency, wallclock timestamping ---
	b.WithFlag("-y").
		WithOption("-v", "error").
		WithFlag("-hide_banner").
		WithOption("-fflags", "nobuffer").
		WithOption("-flags", "low_delay").
		WithOption("-use_wallclock_as_timestamps", "1").
		WithOption("-max_delay", "500000").
		WithOption("-analyzeduration", "1000000").
		WithOption("-probesize", "1000000")

	// --- Video input: raw elementary stream from the FIFO ---
	b.WithOption("-f", s.VideoCodec).
		WithOption("-i", s.VideoPipe)

	// --- Audio input: fixed-rate mono PCM from the FIFO ---
	b.WithOption("-f", "s16le").
		WithOption("-ar", "16000").
		WithOption("-ac", "1").
		WithOption("-i", s.AudioPipe)

	// --- Stream mapping ---
	b.WithOption("-c:v", "copy").
		WithOption("-bsf:v", "dump_extra").
		WithOption("-c:a", "aac").
		WithOption("-b:a", "64k").
		WithOption("-ar", "16000").
		WithOption("-ac", "1")

	// --- Output: RTSP over TCP ---
	b.WithOption("-f", "rtsp").
		WithOption("-rtsp_transport", "tcp").
		WithOption("-max_muxing_queue_size", "1024").
		WithArg(s.RTSPURL)

	return b
}

// BuildArgv is a convenience over FromSpec(s).BuildArgv().
func BuildArgv(s RemuxSpec) []string { return FromSpec(s).BuildArgv() }

// BuildString is a convenience over FromSpec(s).BuildString().
func BuildString(s RemuxSpec) string { return FromSpec(s).BuildString() }
