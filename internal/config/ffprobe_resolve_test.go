// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFFprobeBin(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	withProbe := filepath.Join(dir, "with", "ffmpeg")
	require.NoError(t, os.MkdirAll(filepath.Dir(withProbe), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "with", "ffprobe"), []byte("stub"), 0o755))

	tests := []struct {
		name    string
		ffprobe string
		ffmpeg  string
		want    string
	}{
		{"explicit wins", "/custom/ffprobe", withProbe, "/custom/ffprobe"},
		{"sibling of ffmpeg path", "", withProbe, filepath.Join(dir, "with", "ffprobe")},
		{"bare ffmpeg uses PATH", "", "ffmpeg", "ffprobe"},
		{"missing sibling uses PATH", "", filepath.Join(dir, "without", "ffmpeg"), "ffprobe"},
		{"renamed ffmpeg is not guessed", "", filepath.Join(dir, "with", "ffmpeg6"), "ffprobe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveFFprobeBin(tt.ffprobe, tt.ffmpeg))
		})
	}
}
