package backend

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultProbeTimeout bounds how long a capability probe may take.
const DefaultProbeTimeout = 5 * time.Second

// WriterProbe answers "does the writer backend accept this codec" the way
// a platform media-writer's canApply(outputSettings:) capability check
// would, but for the ffmpeg backend: it shells out once to list compiled
// encoders and caches the result for the process lifetime.
type WriterProbe struct {
	ffmpegPath string
	timeout    time.Duration

	once     sync.Once
	mu       sync.RWMutex
	encoders map[string]bool
	probeErr error
}

// ProbeOption configures a WriterProbe.
type ProbeOption func(*WriterProbe)

// WithProbeFFmpegPath overrides the ffmpeg binary used to probe.
func WithProbeFFmpegPath(path string) ProbeOption {
	return func(p *WriterProbe) { p.ffmpegPath = path }
}

// WithProbeTimeout overrides DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *WriterProbe) { p.timeout = d }
}

// NewWriterProbe returns a WriterProbe; the actual `ffmpeg -encoders` call
// is deferred until the first AcceptsHEVC/AcceptsCodec call.
func NewWriterProbe(opts ...ProbeOption) *WriterProbe {
	p := &WriterProbe{ffmpegPath: "ffmpeg", timeout: DefaultProbeTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AcceptsHEVC reports whether the backend can encode HEVC, per spec.md
// §4.2's "if useHEVC requested and writer accepts HEVC settings" branch.
func (p *WriterProbe) AcceptsHEVC(ctx context.Context) bool {
	return p.AcceptsCodec(ctx, "hevc") || p.AcceptsCodec(ctx, "libx265")
}

// AcceptsCodec reports whether ffmpeg's compiled encoder list names codec.
func (p *WriterProbe) AcceptsCodec(ctx context.Context, codec string) bool {
	p.ensureProbed(ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.probeErr != nil {
		return false
	}
	return p.encoders[strings.ToLower(codec)]
}

func (p *WriterProbe) ensureProbed(ctx context.Context) {
	p.once.Do(func() {
		probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		cmd := exec.CommandContext(probeCtx, p.ffmpegPath, "-hide_banner", "-encoders")
		out, err := cmd.Output()

		p.mu.Lock()
		defer p.mu.Unlock()
		if err != nil {
			p.probeErr = err
			return
		}
		p.encoders = parseEncoderList(string(out))
	})
}

// parseEncoderList extracts encoder names from `ffmpeg -encoders` output.
// Each encoder line has the form " V..... libx264  ...description...";
// the name is the second whitespace-separated field.
func parseEncoderList(output string) map[string]bool {
	encoders := make(map[string]bool)
	seenSeparator := false
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if !seenSeparator {
			if strings.HasPrefix(trimmed, "---") {
				seenSeparator = true
			}
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			continue
		}
		encoders[strings.ToLower(fields[1])] = true
	}
	return encoders
}
