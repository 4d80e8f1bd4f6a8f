// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_Destination(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		key     string
		want    string
		wantErr bool
	}{
		{name: "trailing slash", url: "rtmp://a.rtmp.youtube.com/live2/", key: "abcd-1234", want: "rtmp://a.rtmp.youtube.com/live2/abcd-1234"},
		{name: "no slash", url: "rtmps://live-api-s.facebook.com:443/rtmp", key: "FB-1", want: "rtmps://live-api-s.facebook.com:443/rtmp/FB-1"},
		{name: "empty url", url: "", key: "k", wantErr: true},
		{name: "empty key", url: "rtmp://host/app", key: " ", wantErr: true},
		{name: "wrong scheme", url: "http://host/app", key: "k", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Stream{IngestURL: tt.url, StreamKey: tt.key}
			got, err := s.Destination()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrBuildCommand)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStream_TranscodeParamsDefaults(t *testing.T) {
	s := &Stream{Encoding: EncodingTranscode}
	p, err := s.TranscodeParams()
	require.NoError(t, err)
	assert.Equal(t, TranscodeParams{BitrateKbps: DefaultBitrateKbps, Resolution: DefaultResolution, FPS: DefaultFPS, VideoCodec: DefaultVideoCodec}, p)

	s.Resolution = "wide"
	_, err = s.TranscodeParams()
	assert.ErrorIs(t, err, ErrBuildCommand)
}

func TestStream_HasRemainingTime(t *testing.T) {
	assert.True(t, (&Stream{}).HasRemainingTime())
	assert.True(t, (&Stream{RemainingMinutes: IntPtr(1)}).HasRemainingTime())
	assert.False(t, (&Stream{RemainingMinutes: IntPtr(0)}).HasRemainingTime())
	assert.False(t, (&Stream{RemainingMinutes: IntPtr(-3)}).HasRemainingTime())
}

func TestReasonAndCode(t *testing.T) {
	wrapped := fmt.Errorf("start s-1: %w", ErrMediaNotFound)
	assert.Equal(t, "video file not found on disk", Reason(wrapped))
	assert.Equal(t, "media_not_found", Code(wrapped))
	assert.Equal(t, "boom", Reason(errors.New("boom")))
	assert.Equal(t, "internal", Code(errors.New("boom")))
	assert.Equal(t, "ok", Code(nil))
}
