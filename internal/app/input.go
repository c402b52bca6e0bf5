package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrWong99/streamscribe/internal/config"
	"github.com/MrWong99/streamscribe/pkg/audio"
)

// OpenInput opens the audio source described by in. rate is the pipeline
// sampling rate; WAVE files must match it. The returned close function
// releases the underlying file and is a no-op for standard input.
func OpenInput(in config.InputConfig, rate int) (audio.Source, func() error, error) {
	var (
		r       io.Reader = os.Stdin
		closeFn           = func() error { return nil }
	)
	if in.Path != config.StdinPath {
		f, err := os.Open(in.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open input: %w", err)
		}
		r, closeFn = f, f.Close
	}

	var (
		src audio.Source
		err error
	)
	switch in.Format {
	case audio.FormatWAV:
		rs, ok := r.(io.ReadSeeker)
		if !ok || in.Path == config.StdinPath {
			_ = closeFn()
			return nil, nil, fmt.Errorf("app: wav input needs a seekable file, got %q", in.Path)
		}
		src, err = audio.NewWAVSource(rs, rate, in.ChunkBytes/4)
	default:
		src, err = audio.NewRawSource(r, in.Format, in.Channels, in.ChunkBytes)
	}
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("app: %w", err)
	}

	slog.Debug("app: input opened", "path", in.Path, "format", in.Format, "channels", in.Channels)
	return src, closeFn, nil
}
