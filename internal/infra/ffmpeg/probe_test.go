// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/streamrelay/internal/cache"
	"github.com/ManuGH/streamrelay/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProber_CachesResult(t *testing.T) {
	var calls atomic.Int32
	p := NewProber("ffprobe", cache.NewMemoryCache(0), time.Hour)
	p.run = func(ctx context.Context, bin, path string) ([]byte, error) {
		calls.Add(1)
		return []byte(`{"format":{"duration":"30.040000"}}`), nil
	}

	for i := 0; i < 3; i++ {
		d, err := p.ProbeDuration(context.Background(), "/media/a.mp4")
		require.NoError(t, err)
		assert.InDelta(t, 30.04, d, 1e-9)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestProber_SingleflightDedupes(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	p := NewProber("ffprobe", nil, 0)
	p.run = func(ctx context.Context, bin, path string) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte(`{"format":{"duration":"12"}}`), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := p.ProbeDuration(context.Background(), "/media/b.mp4")
			assert.NoError(t, err)
			assert.Equal(t, 12.0, d)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestProber_Errors(t *testing.T) {
	tests := []struct {
		name string
		out  string
		err  error
	}{
		{"exec failure", "", errors.New("exit status 1")},
		{"bad json", "{", nil},
		{"missing duration", `{"format":{}}`, nil},
		{"na duration", `{"format":{"duration":"N/A"}}`, nil},
		{"zero duration", `{"format":{"duration":"0"}}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cache.NewMemoryCache(0)
			p := NewProber("", c, 0)
			p.run = func(ctx context.Context, bin, path string) ([]byte, error) {
				return []byte(tt.out), tt.err
			}
			_, err := p.ProbeDuration(context.Background(), "/x")
			assert.Error(t, err)
			assert.Equal(t, 0, c.Stats().Entries, "failures are not cached")
		})
	}
}

func TestProber_FailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	log.Configure(log.Config{Level: "info", Output: &buf})
	t.Cleanup(func() { log.Configure(log.Config{}) })

	p := NewProber("", nil, 0)
	p.run = func(ctx context.Context, bin, path string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	}
	_, err := p.ProbeDuration(context.Background(), "/media/broken.mp4")
	require.Error(t, err)

	assert.Contains(t, buf.String(), `"component":"ffprobe"`)
	assert.Contains(t, buf.String(), `"path":"/media/broken.mp4"`)
}
