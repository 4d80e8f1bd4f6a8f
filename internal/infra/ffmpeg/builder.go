// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"fmt"
	"strconv"

	"github.com/ManuGH/streamrelay/internal/domain/stream/model"
)

// InputSpec describes the source side of a relay session.
type InputSpec struct {
	Path   string
	Offset float64 // seconds into the source, already reduced for looping
	Loop   bool
}

// BuildArgs constructs the ffmpeg arguments that push one stream to its
// ingest endpoint. Progress is reported as key=value blocks on stdout and
// diagnostics go to stderr. No shell is involved.
func BuildArgs(st *model.Stream, in InputSpec) ([]string, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: nil stream", model.ErrBuildCommand)
	}
	if in.Path == "" {
		return nil, fmt.Errorf("%w: missing source path", model.ErrBuildCommand)
	}
	dest, err := st.Destination()
	if err != nil {
		return nil, err
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-hwaccel", "none",
		"-loglevel", "info",
		"-progress", "pipe:1",
		"-nostats",
		"-re",
		"-fflags", "+genpts+igndts",
	}
	if in.Offset > 0 {
		args = append(args, "-ss", strconv.FormatFloat(in.Offset, 'f', 3, 64))
	}
	loop := "0"
	if in.Loop {
		loop = "-1"
	}
	args = append(args, "-stream_loop", loop, "-i", in.Path)

	switch st.Encoding {
	case model.EncodingTranscode:
		p, err := st.TranscodeParams()
		if err != nil {
			return nil, err
		}
		args = append(args,
			"-c:v", p.VideoCodec,
			"-preset", "veryfast",
			"-b:v", fmt.Sprintf("%dk", p.BitrateKbps),
			"-maxrate", fmt.Sprintf("%dk", p.BitrateKbps*3/2),
			"-bufsize", fmt.Sprintf("%dk", p.BitrateKbps*2),
			"-pix_fmt", "yuv420p",
			"-g", strconv.Itoa(p.FPS*2),
			"-s", p.Resolution,
			"-r", strconv.Itoa(p.FPS),
			"-c:a", "aac",
			"-b:a", "128k",
			"-ar", "44100",
		)
	case model.EncodingPassthrough, "":
		args = append(args, "-c:v", "copy", "-c:a", "copy")
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", model.ErrBuildCommand, st.Encoding)
	}

	return append(args, "-f", "flv", dest), nil
}
