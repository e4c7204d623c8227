package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"promptcut/config"
	"promptcut/logger"
	"promptcut/segment"
)

// MediaInfo is what the assembler needs to know about a source file.
type MediaInfo struct {
	Duration float64
	HasAudio bool
}

type Runner struct {
	cfg       *config.Config
	tempDir   string
	extraArgs []string
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	// Ensure ffmpeg and ffprobe are executable
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}
	if _, err := exec.LookPath(cfg.FFProbeBin); err != nil {
		return nil, fmt.Errorf("ffprobe binary not found or not in PATH: %s", cfg.FFProbeBin)
	}

	extra, err := SplitCommand(cfg.FFExtraArgs)
	if err != nil {
		return nil, err
	}
	if err := ValidateExtraArgs(extra); err != nil {
		return nil, fmt.Errorf("invalid FF_EXTRA_ARGS: %w", err)
	}

	// Create and set a temporary directory for all I/O
	tempDir, err := os.MkdirTemp("", "promptcut_")
	if err != nil {
		return nil, fmt.Errorf("could not create temp directory: %w", err)
	}
	logger.Infof("Using temporary directory: %s", tempDir)
	cfg.TempDir = tempDir

	return &Runner{
		cfg:       cfg,
		tempDir:   tempDir,
		extraArgs: extra,
	}, nil
}

// TempDir is the scratch directory for downloads and encodes.
func (r *Runner) TempDir() string {
	return r.tempDir
}

// Probe reads the container duration and whether an audio stream exists.
func (r *Runner) Probe(ctx context.Context, path string) (MediaInfo, error) {
	cmd := exec.CommandContext(ctx, r.cfg.FFProbeBin,
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type",
		"-of", "json",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return MediaInfo{}, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (MediaInfo, error) {
	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return MediaInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	sec, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
	}
	info := MediaInfo{Duration: sec}
	for _, s := range probe.Streams {
		if s.CodecType == "audio" {
			info.HasAudio = true
		}
	}
	return info, nil
}

// Assemble cuts every range out of input, in order, and concatenates them
// into output as H.264/AAC MP4. It returns ffmpeg's combined output.
func (r *Runner) Assemble(ctx context.Context, input string, cuts []segment.TimeRange, hasAudio bool, output string) (string, error) {
	if len(cuts) == 0 {
		return "", fmt.Errorf("no ranges to assemble")
	}
	if err := r.checkResources(); err != nil {
		return "", fmt.Errorf("insufficient system resources: %w", err)
	}

	args := BuildAssembleArgs(input, cuts, hasAudio, r.extraArgs, output)
	cmd := exec.CommandContext(ctx, r.cfg.FFBin, args...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	logger.Debugf("Executing: %s %s", cmd.Path, strings.Join(args, " "))

	err := cmd.Run()
	outputLog := outputBuf.String()
	if err != nil {
		// If the command failed, clean up the (likely empty or partial) output file.
		os.Remove(output)
		return outputLog, fmt.Errorf("ffmpeg execution failed: %w", err)
	}
	return outputLog, nil
}

// BuildAssembleArgs renders the trim/concat filter graph for cuts.
func BuildAssembleArgs(input string, cuts []segment.TimeRange, hasAudio bool, extra []string, output string) []string {
	var graph strings.Builder
	var concatIn strings.Builder
	for i, c := range cuts {
		start, end := fmtSeconds(c.Start), fmtSeconds(c.End)
		fmt.Fprintf(&graph, "[0:v]trim=start=%s:end=%s,setpts=PTS-STARTPTS[v%d];", start, end, i)
		fmt.Fprintf(&concatIn, "[v%d]", i)
		if hasAudio {
			fmt.Fprintf(&graph, "[0:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS[a%d];", start, end, i)
			fmt.Fprintf(&concatIn, "[a%d]", i)
		}
	}
	audioStreams := 0
	if hasAudio {
		audioStreams = 1
	}
	graph.WriteString(concatIn.String())
	fmt.Fprintf(&graph, "concat=n=%d:v=1:a=%d[outv]", len(cuts), audioStreams)
	if hasAudio {
		graph.WriteString("[outa]")
	}

	args := []string{"-y", "-i", input, "-filter_complex", graph.String(), "-map", "[outv]"}
	if hasAudio {
		args = append(args, "-map", "[outa]", "-c:a", "aac")
	}
	args = append(args, "-c:v", "libx264", "-pix_fmt", "yuv420p")
	args = append(args, extra...)
	args = append(args, "-movflags", "+faststart", output)
	return args
}

func fmtSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

// checkResources verifies that the system has enough free resources to start a new encode.
func (r *Runner) checkResources() error {
	// CPU
	p, err := cpu.Percent(time.Second, false)
	if err != nil {
		logger.Warnf("could not get CPU usage: %v", err)
	} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
		return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
	}

	// Memory
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warnf("could not get memory usage: %v", err)
	} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
		return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
	}

	// Disk
	d, err := disk.Usage(r.tempDir)
	if err != nil {
		logger.Warnf("could not get disk usage for %s: %v", r.tempDir, err)
	} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
		return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
	}
	return nil
}
