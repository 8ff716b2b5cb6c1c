package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Open decodes a local file, choosing the decoder by extension. Raw files
// (.pcm, .raw) are read as call-format PCM. The returned source owns the
// file and implements io.Closer.
func Open(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}

	var src Source
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		src, err = NewMP3Source(f)
	case ".flac":
		src, err = NewFLACSource(f)
	case ".pcm", ".raw":
		src, err = NewPCMReader(f, CallFormat)
	default:
		err = fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac, .pcm)", ext)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}
