// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package assembly

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
)

// Failure classes. The worker maps them to retryable vs dead-letter: missing
// frames may still arrive from a node, encoder rejects and unwritable output
// directories will not heal on retry.
type MissingInputsError struct {
	Missing []string
}

func (e *MissingInputsError) Error() string {
	n := len(e.Missing)
	if n > 3 {
		return fmt.Sprintf("%d input frames missing, first: %s", n, strings.Join(e.Missing[:3], ", "))
	}
	return fmt.Sprintf("%d input frames missing: %s", n, strings.Join(e.Missing, ", "))
}

type EncoderError struct {
	ExitCode int
	LogPath  string
}

func (e *EncoderError) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d, log at %s", e.ExitCode, e.LogPath)
}

type OutputError struct {
	Path string
	Err  error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("output path %s unwritable: %v", e.Path, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// Request describes one assembly run. Inputs must already be local files in
// playback order. InputHash identifies the exact encode; its prefix lands in
// the artifact filename so re-runs overwrite rather than accumulate.
type Request struct {
	JobID     string
	SessionID string
	Inputs    []string
	FrameRate int
	Quality   string
	InputHash string

	OutputDir string
	LogDir    string
}

// Result reports the produced artifact.
type Result struct {
	OutputPath    string
	ThumbnailPath string
	FrameCount    int
	DurationMS    int64
	SizeBytes     int64
	Quality       string
}

func (r *Request) shortHash() string {
	if len(r.InputHash) >= 8 {
		return r.InputHash[:8]
	}
	if r.InputHash != "" {
		return r.InputHash
	}
	return r.Quality
}

// Driver shells out to ffmpeg. One invocation per job; stdout and stderr are
// preserved in {job_id}.log for postmortems.
type Driver struct {
	ffmpegPath string
}

func NewDriver(ffmpegPath string) *Driver {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Driver{ffmpegPath: ffmpegPath}
}

// Assemble encodes req.Inputs into {session_id}_{hash8}.mp4 plus a
// thumbnail taken from the midpoint frame.
func (d *Driver) Assemble(ctx context.Context, req *Request) (*Result, error) {
	preset, err := PresetFor(req.Quality)
	if err != nil {
		return nil, err
	}
	if len(req.Inputs) == 0 {
		return nil, &MissingInputsError{Missing: []string{"(no input frames)"}}
	}

	var missing []string
	for _, in := range req.Inputs {
		if _, err := os.Stat(in); err != nil {
			missing = append(missing, in)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingInputsError{Missing: missing}
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, &OutputError{Path: req.OutputDir, Err: err}
	}
	if err := os.MkdirAll(req.LogDir, 0o755); err != nil {
		return nil, &OutputError{Path: req.LogDir, Err: err}
	}

	listPath, err := d.writeConcatList(req)
	if err != nil {
		return nil, &OutputError{Path: req.OutputDir, Err: err}
	}
	defer os.Remove(listPath)

	logPath := filepath.Join(req.LogDir, req.JobID+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, &OutputError{Path: logPath, Err: err}
	}
	defer logFile.Close()

	outputPath := filepath.Join(req.OutputDir, fmt.Sprintf("%s_%s.mp4", req.SessionID, req.shortHash()))
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-r", fmt.Sprintf("%d", req.FrameRate),
		"-i", listPath,
		"-c:v", "libx264",
		"-crf", fmt.Sprintf("%d", preset.CRF),
		"-preset", preset.Speed,
		"-pix_fmt", preset.PixelFormat,
		outputPath,
	}

	log.Infof("Assembly %s: encoding %d frames at %d fps (%s) -> %s",
		req.JobID, len(req.Inputs), req.FrameRate, preset.Name, outputPath)
	if err := d.run(ctx, logFile, args...); err != nil {
		os.Remove(outputPath)
		return nil, d.classify(err, logPath)
	}

	thumbPath := filepath.Join(req.OutputDir, fmt.Sprintf("%s_%s.jpg", req.SessionID, req.shortHash()))
	midFrame := req.Inputs[len(req.Inputs)/2]
	thumbArgs := []string{
		"-y",
		"-i", midFrame,
		"-vf", fmt.Sprintf("scale=%d:-2", preset.ThumbWidth),
		"-frames:v", "1",
		thumbPath,
	}
	if err := d.run(ctx, logFile, thumbArgs...); err != nil {
		// The video is fine; a missing thumbnail is not worth failing the job.
		log.Warnf("Assembly %s: thumbnail generation failed: %v", req.JobID, err)
		thumbPath = ""
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, &OutputError{Path: outputPath, Err: err}
	}

	return &Result{
		OutputPath:    outputPath,
		ThumbnailPath: thumbPath,
		FrameCount:    len(req.Inputs),
		DurationMS:    int64(len(req.Inputs)) * 1000 / int64(req.FrameRate),
		SizeBytes:     info.Size(),
		Quality:       preset.Name,
	}, nil
}

// writeConcatList emits the ffmpeg concat demuxer file next to the output.
func (d *Driver) writeConcatList(req *Request) (string, error) {
	var b strings.Builder
	for _, in := range req.Inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	listPath := filepath.Join(req.OutputDir, fmt.Sprintf(".%s_inputs.txt", req.JobID))
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return listPath, nil
}

func (d *Driver) run(ctx context.Context, logFile *os.File, args ...string) error {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	fmt.Fprintf(logFile, "--- %s %s %s\n", time.Now().UTC().Format(time.RFC3339), d.ffmpegPath, strings.Join(args, " "))
	return cmd.Run()
}

// MergeBracket fuses the frames of one exposure bracket into a single image
// by iterative average blending. Inputs are ordered darkest to brightest.
func (d *Driver) MergeBracket(ctx context.Context, jobID string, inputs []string, outputPath, logDir string) error {
	if len(inputs) < 2 {
		return &MissingInputsError{Missing: []string{"(bracket needs at least 2 frames)"}}
	}
	var missing []string
	for _, in := range inputs {
		if _, err := os.Stat(in); err != nil {
			missing = append(missing, in)
		}
	}
	if len(missing) > 0 {
		return &MissingInputsError{Missing: missing}
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return &OutputError{Path: logDir, Err: err}
	}
	logPath := filepath.Join(logDir, jobID+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &OutputError{Path: logPath, Err: err}
	}
	defer logFile.Close()

	args := []string{"-y"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	var filter strings.Builder
	prev := "[0:v]"
	for i := 1; i < len(inputs); i++ {
		out := fmt.Sprintf("[b%d]", i)
		fmt.Fprintf(&filter, "%s[%d:v]blend=all_mode=average%s;", prev, i, out)
		prev = out
	}
	graph := strings.TrimSuffix(filter.String(), ";")
	args = append(args, "-filter_complex", graph, "-map", prev, "-frames:v", "1", outputPath)

	if err := d.run(ctx, logFile, args...); err != nil {
		os.Remove(outputPath)
		return d.classify(err, logPath)
	}
	return nil
}

func (d *Driver) classify(err error, logPath string) error {
	if exit, ok := err.(*exec.ExitError); ok {
		return &EncoderError{ExitCode: exit.ExitCode(), LogPath: logPath}
	}
	// Binary missing, context cancelled, or I/O failure starting the process.
	return &OutputError{Path: logPath, Err: err}
}
