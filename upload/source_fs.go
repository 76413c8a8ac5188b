package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goliatone/go-publisher/core"
)

// FileSource reads media ranges straight from the filesystem with
// ReadAt, never buffering the whole file.
type FileSource struct {
	path string
}

func NewFileSource(path string) (*FileSource, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("upload: file path is required")
	}
	return &FileSource{path: path}, nil
}

func (s *FileSource) Size(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("upload: file source is nil")
	}
	if ctx != nil && ctx.Err() != nil {
		return 0, ctx.Err()
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, fmt.Errorf("upload: stat %s: %w", s.path, err)
	}
	return info.Size(), nil
}

func (s *FileSource) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("upload: file source is nil")
	}
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("upload: open %s: %w", s.path, err)
	}
	defer file.Close()

	data := make([]byte, end-start)
	read, err := file.ReadAt(data, start)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("upload: read range [%d,%d) of %s: %w", start, end, s.path, err)
	}
	if int64(read) != end-start {
		return nil, fmt.Errorf("upload: short read [%d,%d) of %s: got %d bytes", start, end, s.path, read)
	}
	return data, nil
}

// BytesSource serves ranges from an in-memory buffer. Test and
// small-media convenience.
type BytesSource struct {
	data []byte
}

func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{data: bytes.Clone(data)}
}

func (s *BytesSource) Size(context.Context) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("upload: bytes source is nil")
	}
	return int64(len(s.data)), nil
}

func (s *BytesSource) ReadRange(_ context.Context, start, end int64) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("upload: bytes source is nil")
	}
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	if end > int64(len(s.data)) {
		return nil, fmt.Errorf("upload: range [%d,%d) exceeds %d bytes", start, end, len(s.data))
	}
	return bytes.Clone(s.data[start:end]), nil
}

func validateRange(start, end int64) error {
	if start < 0 || end <= start {
		return fmt.Errorf("upload: invalid byte range [%d,%d)", start, end)
	}
	return nil
}

var (
	_ core.ByteRangeSource = (*FileSource)(nil)
	_ core.ByteRangeSource = (*BytesSource)(nil)
)
