// Package audiofx implements MicGainChain, the stateful microphone
// post-processor applied before a pipeline append (spec.md §4.5): linear
// gain, a first-order-smoothed AGC, and an optional soft-clip limiter.
package audiofx

import (
	"encoding/binary"
	"math"

	"github.com/avreclab/recorder-engine/internal/media"
	"github.com/avreclab/recorder-engine/internal/plan"
)

// agcSmoothing is the first-order low-pass coefficient applied to the AGC's
// desired gain each buffer, per spec.md §4.5: g' = 0.1*desired + 0.9*g.
const agcSmoothing = 0.1

// rmsEpsilon floors the measured RMS so a silent buffer doesn't produce an
// unbounded desired gain.
const rmsEpsilon = 1e-9

// MicGainChain applies MicrophoneOptions' gain/AGC/limiter chain to
// successive audio buffers from one microphone source. It is not safe for
// concurrent use; a pipeline's single serial audio worker owns it
// (spec.md §5 Ownership).
type MicGainChain struct {
	opts plan.MicrophoneOptions
	gain float64 // current smoothed AGC gain, starts at unity
}

// NewMicGainChain returns a chain configured from opts. When
// opts.EnableProcessing is false, Process is a no-op passthrough.
func NewMicGainChain(opts plan.MicrophoneOptions) *MicGainChain {
	return &MicGainChain{opts: opts, gain: 1.0}
}

// Process applies the chain in place to frame's payload, interpreting it
// per frame.FormatDesc.SampleFmt. Unsupported formats (and
// SampleFormatUnknown) are passed through unchanged, per spec.md §4.5.
func (c *MicGainChain) Process(frame *media.MediaFrame) {
	if !c.opts.EnableProcessing {
		return
	}

	switch frame.FormatDesc.SampleFmt {
	case media.SampleFormatPCM16:
		c.processPCM16(frame.Payload)
	case media.SampleFormatFloat32:
		c.processFloat32(frame.Payload)
	default:
		return
	}
}

// effectiveGain computes this buffer's combined gain from samples (channel
// 0 only, per spec.md §4.5) and advances the AGC's smoothed state.
func (c *MicGainChain) effectiveGain(samples []float64) float64 {
	g := c.gain
	if c.opts.EnableAGC {
		rms := channel0RMS(samples, c.channels())
		desired := c.opts.AGCTargetRMS / math.Max(rmsEpsilon, rms)
		maxGain := math.Pow(10, c.opts.AGCMaxGainDb/20)
		if desired > maxGain {
			desired = maxGain
		}
		g = agcSmoothing*desired + (1-agcSmoothing)*c.gain
		c.gain = g
	}

	linear := c.opts.LinearGain
	if linear < 0 {
		linear = 0
	}
	return linear * g
}

func (c *MicGainChain) channels() int {
	if c.opts.Channels <= 0 {
		return 1
	}
	return c.opts.Channels
}

// channel0RMS computes the RMS of channel 0's samples from an interleaved
// multi-channel buffer.
func channel0RMS(samples []float64, channels int) float64 {
	if channels <= 0 {
		channels = 1
	}
	var sum float64
	var n int
	for i := 0; i < len(samples); i += channels {
		sum += samples[i] * samples[i]
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

func (c *MicGainChain) applySample(v float64, gain float64) float64 {
	v *= gain
	if c.opts.EnableLimiter {
		v = math.Tanh(2 * v)
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return v
}

// processPCM16 treats payload as little-endian interleaved int16 samples.
func (c *MicGainChain) processPCM16(payload []byte) {
	n := len(payload) / 2
	if n == 0 {
		return
	}
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(payload[i*2:]))) / 32768.0
	}

	gain := c.effectiveGain(samples)

	for i := 0; i < n; i++ {
		out := c.applySample(samples[i], gain)
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(int16(out*32767.0)))
	}
}

// processFloat32 treats payload as little-endian interleaved float32 samples.
func (c *MicGainChain) processFloat32(payload []byte) {
	n := len(payload) / 4
	if n == 0 {
		return
	}
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(payload[i*4:])
		samples[i] = float64(math.Float32frombits(bits))
	}

	gain := c.effectiveGain(samples)

	for i := 0; i < n; i++ {
		out := c.applySample(samples[i], gain)
		binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(float32(out)))
	}
}
