package encoder

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/robocap/robocap/pkg/log"
)

// Encoder turns a directory of PNG frames into one video file.
type Encoder interface {
	EncodeFrames(imgDir, outPath string, fps int) error
}

// ErrNoFrames is returned when the frame directory holds no PNGs.
var ErrNoFrames = fmt.Errorf("no frames to encode")

// Hardware encoders fail with these markers when the accelerator's
// channel pool is exhausted; the error is transient per-invocation and
// the software path is the correct fallback.
var hardwareExhaustionMarkers = []string{
	"cannot open the device",
	"no free encoding channel",
	"resource temporarily unavailable",
	"failed to initialize encoder",
}

// FFmpeg encodes via an external ffmpeg subprocess. When UseHardware is
// set the accelerated encoder is tried first with a software fallback
// on channel exhaustion.
type FFmpeg struct {
	UseHardware   bool
	HardwareCodec string
	SoftwareCodec string

	logger zerolog.Logger
	run    func(args []string, dir string) (stderr string, err error)
}

// NewFFmpeg creates an encoder. useHardware enables the accelerated
// path (NPU); the software path is always available as fallback.
func NewFFmpeg(useHardware bool) *FFmpeg {
	return &FFmpeg{
		UseHardware:   useHardware,
		HardwareCodec: "h264_rkmpp",
		SoftwareCodec: "libx264",
		logger:        log.WithComponent("encoder"),
		run:           runFFmpeg,
	}
}

// EncodeFrames encodes every PNG under imgDir (glob order) into
// outPath at the given frame rate.
func (e *FFmpeg) EncodeFrames(imgDir, outPath string, fps int) error {
	frames, err := filepath.Glob(filepath.Join(imgDir, "*.png"))
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("%w: %s", ErrNoFrames, imgDir)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create video dir: %w", err)
	}

	if e.UseHardware {
		stderr, hwErr := e.run(e.args(e.HardwareCodec, outPath, fps), imgDir)
		if hwErr == nil {
			return nil
		}
		if !isChannelExhaustion(stderr) {
			return fmt.Errorf("hardware encode of %s failed: %w", imgDir, hwErr)
		}
		e.logger.Warn().Str("dir", imgDir).Msg("hardware encoder channels exhausted, falling back to software")
	}

	stderr, swErr := e.run(e.args(e.SoftwareCodec, outPath, fps), imgDir)
	if swErr != nil {
		return fmt.Errorf("software encode of %s failed: %w (stderr: %s)", imgDir, swErr, tail(stderr, 400))
	}
	return nil
}

func (e *FFmpeg) args(codec, outPath string, fps int) []string {
	return []string{
		"-y",
		"-framerate", strconv.Itoa(fps),
		"-pattern_type", "glob",
		"-i", "*.png",
		"-c:v", codec,
		"-pix_fmt", "yuv420p",
		outPath,
	}
}

func isChannelExhaustion(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range hardwareExhaustionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func runFFmpeg(args []string, dir string) (string, error) {
	cmd := exec.Command("ffmpeg", args...)
	cmd.Dir = dir
	var stderr strings.Builder
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
