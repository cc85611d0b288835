// Package demux classifies the camera's chunked binary stream into its video
// and audio substreams and forwards each payload, unmodified and in arrival
// order, to the matching byte sink.
//
// Frame contract: byte 0 is the stream-type tag (1=video, 2=audio), bytes
// 1..end are the payload. Frames shorter than 2 bytes or carrying an unknown
// tag are dropped silently; they never reach a sink and never fail the
// demuxer.
package demux

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StreamType identifies a substream by its wire tag.
type StreamType byte

const (
	StreamVideo StreamType = 1
	StreamAudio StreamType = 2
)

func (t StreamType) String() string {
	switch t {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// MediaFrame is a classified frame in transit between the demuxer and a
// sink. It is never retained past Dispatch.
type MediaFrame struct {
	Type    StreamType
	Payload []byte
	Arrival time.Time
}

// Classify splits a raw binary frame into a MediaFrame. ok is false for
// malformed frames (length < 2 or unrecognized tag).
func Classify(frame []byte) (MediaFrame, bool) {
	if len(frame) < 2 {
		return MediaFrame{}, false
	}
	t := StreamType(frame[0])
	if t != StreamVideo && t != StreamAudio {
		return MediaFrame{}, false
	}
	return MediaFrame{Type: t, Payload: frame[1:], Arrival: time.Now()}, true
}

// Sink accepts payload chunks. Write must not block the caller beyond a
// short bounded window; pipe.Channel satisfies this.
type Sink interface {
	Write(chunk []byte)
}

// Demuxer routes classified frames to the video and audio sinks, optionally
// holding back video until the first keyframe.
//
// The keyframe gate transitions exactly once per Demuxer, from engaged to
// open, and never re-engages; a new session builds a fresh Demuxer. While
// engaged, every video payload is scanned and non-qualifying payloads are
// dropped whole. Once open, video is forwarded without scanning (including
// the payload that opened it). Audio is never gated.
type Demuxer struct {
	log     *zap.Logger
	video   Sink
	audio   Sink
	scanner KeyframeScanner

	waitingForKeyframe bool

	// Read concurrently by the diagnostics API.
	videoFrames atomic.Uint64
	audioFrames atomic.Uint64
	dropped     atomic.Uint64
}

// Options configures a Demuxer.
type Options struct {
	Video Sink
	Audio Sink

	// Scanner gates video until the first keyframe. Nil disables gating.
	Scanner KeyframeScanner
}

// New builds a Demuxer. The gate starts engaged iff a scanner is supplied.
func New(log *zap.Logger, opts Options) *Demuxer {
	return &Demuxer{
		log:                log.Named("demux"),
		video:              opts.Video,
		audio:              opts.Audio,
		scanner:            opts.Scanner,
		waitingForKeyframe: opts.Scanner != nil,
	}
}

// Dispatch classifies one raw frame and forwards its payload. It returns
// the classified frame and whether it was forwarded to a sink.
func (d *Demuxer) Dispatch(frame []byte) (MediaFrame, bool) {
	mf, ok := Classify(frame)
	if !ok {
		d.dropped.Add(1)
		return MediaFrame{}, false
	}

	switch mf.Type {
	case StreamVideo:
		if d.waitingForKeyframe {
			if !d.scanner.ContainsKeyframe(mf.Payload) {
				d.dropped.Add(1)
				return mf, false
			}
			d.waitingForKeyframe = false
			d.log.Info("keyframe detected, video unblocked")
		}
		d.video.Write(mf.Payload)
		d.videoFrames.Add(1)
	case StreamAudio:
		d.audio.Write(mf.Payload)
		d.audioFrames.Add(1)
	}
	return mf, true
}

// Counters returns forwarded video/audio frame counts and the number of
// dropped frames (malformed, unknown tag, or gated video).
func (d *Demuxer) Counters() (video, audio, dropped uint64) {
	return d.videoFrames.Load(), d.audioFrames.Load(), d.dropped.Load()
}
