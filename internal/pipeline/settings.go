package pipeline

import "github.com/avreclab/recorder-engine/internal/plan"

const (
	defaultBppH264 = 0.060
	defaultBppHEVC = 0.035

	// defaultMaxKeyFrameInterval matches spec §4.2: "max key-frame interval = 2 seconds".
	defaultMaxKeyFrameInterval = 2.0

	// hdrConservativeBpp is used instead of BppHEVC alone for HDR + HEVC
	// screen capture without an explicit targetBitRate, whether or not system
	// audio is muxed, per spec §9's open question: parity tests flag bitrate
	// ratios > 2x for HDR + HEVC + audio, so a conservative fixed bpp is used
	// rather than inheriting HEVC's bpp unmodified.
	hdrConservativeBpp = 0.045
)

// clamp returns v restricted to [lo,hi]. A zero hi (no max configured) is
// treated as "no upper bound".
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}

// DeriveScreenVideoSettings computes the encoder settings for a Display or
// Window pipeline from the first video frame's resolution, per spec §4.2.
// writerAcceptsHEVC reflects a live capability probe of the concrete
// ContainerWriter (spec §3: "silently degrade to H.264 when unavailable").
func DeriveScreenVideoSettings(opts plan.ScreenOptions, width, height int, hdr, writerAcceptsHEVC bool) VideoSettings {
	useHEVC := opts.UseHEVC && writerAcceptsHEVC
	codec := "h264"
	bpp := defaultBppH264
	if useHEVC {
		codec = "hevc"
		bpp = defaultBppHEVC
	}

	if hdr && useHEVC && opts.TargetBitRate == 0 {
		// Conservative default bpp for HDR+HEVC, with or without muxed audio,
		// instead of inheriting HEVC's bpp unmodified (spec §9 open question).
		bpp = hdrConservativeBpp
	}

	bitrate := opts.TargetBitRate
	if bitrate == 0 {
		bitrate = clamp(int(float64(width*height*opts.FPS)*bpp), 200_000, 0)
	}

	return VideoSettings{
		Codec:               codec,
		Width:               width,
		Height:              height,
		FPS:                 opts.FPS,
		BitRate:             bitrate,
		MaxKeyFrameInterval: defaultMaxKeyFrameInterval,
	}
}

// DeriveCameraVideoSettings computes the encoder settings for a Camera
// pipeline, per spec §3's CameraOptions bitrate formula.
func DeriveCameraVideoSettings(opts plan.CameraOptions, width, height, fps int, writerAcceptsHEVC bool) VideoSettings {
	useHEVC := opts.PreferHEVC && writerAcceptsHEVC
	codec := "h264"
	bpp := opts.BppH264
	if bpp == 0 {
		bpp = defaultBppH264
	}
	if useHEVC {
		codec = "hevc"
		bpp = opts.BppHEVC
		if bpp == 0 {
			bpp = defaultBppHEVC
		}
	}

	effectiveFPS := fps
	if opts.BitrateFPSOverride > 0 {
		effectiveFPS = opts.BitrateFPSOverride
	}

	bitrate := clamp(int(float64(width*height*effectiveFPS)*bpp), opts.MinBitrate, opts.MaxBitrate)

	return VideoSettings{
		Codec:               codec,
		Width:               width,
		Height:              height,
		FPS:                 fps,
		BitRate:             bitrate,
		MaxKeyFrameInterval: defaultMaxKeyFrameInterval,
	}
}

// DeriveAudioSettings computes AAC settings for a muxed or standalone audio
// track, per spec §4.2: "AAC, sample rate from the capture descriptor
// (fallback 48000), channels ≤ 2 (downmix if the source reports >2),
// bitrate 96 kbps mono / 192 kbps stereo, reduced for low sample rates."
func DeriveAudioSettings(sampleRate, channels int) AudioSettings {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if channels > 2 {
		channels = 2 // downmix: no surviving settings key may refer to channel layout
	}
	if channels < 1 {
		channels = 1
	}

	bitrate := 96_000
	if channels == 2 {
		bitrate = 192_000
	}
	if sampleRate < 22050 {
		bitrate = bitrate / 2
	}

	return AudioSettings{
		SampleRate: sampleRate,
		Channels:   channels,
		BitRate:    bitrate,
	}
}
