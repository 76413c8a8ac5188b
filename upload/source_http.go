package upload

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/goliatone/go-publisher/core"
)

// HTTPSource serves byte ranges from a remote media URL using HTTP Range
// requests through the shared transport. Hosts that ignore Range and
// return the full body are rejected rather than buffered.
type HTTPSource struct {
	transport core.TransportAdapter
	url       string
}

func NewHTTPSource(transport core.TransportAdapter, mediaURL string) (*HTTPSource, error) {
	if transport == nil {
		return nil, fmt.Errorf("upload: transport adapter is required")
	}
	mediaURL = strings.TrimSpace(mediaURL)
	if mediaURL == "" {
		return nil, fmt.Errorf("upload: media url is required")
	}
	return &HTTPSource{transport: transport, url: mediaURL}, nil
}

func (s *HTTPSource) Size(ctx context.Context) (int64, error) {
	if s == nil || s.transport == nil {
		return 0, fmt.Errorf("upload: http source is not configured")
	}
	res, err := s.transport.Do(ctx, core.TransportRequest{
		Method: http.MethodHead,
		URL:    s.url,
	})
	if err != nil {
		return 0, err
	}
	if res.StatusCode >= http.StatusBadRequest {
		return 0, fmt.Errorf("upload: media host responded %d to HEAD %s", res.StatusCode, s.url)
	}
	for key, value := range res.Headers {
		if strings.EqualFold(key, "Content-Length") {
			size, parseErr := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if parseErr != nil {
				return 0, fmt.Errorf("upload: invalid content length %q from %s", value, s.url)
			}
			return size, nil
		}
	}
	return 0, fmt.Errorf("upload: media host did not report a content length for %s", s.url)
}

func (s *HTTPSource) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	if s == nil || s.transport == nil {
		return nil, fmt.Errorf("upload: http source is not configured")
	}
	if err := validateRange(start, end); err != nil {
		return nil, err
	}

	res, err := s.transport.Do(ctx, core.TransportRequest{
		Method: http.MethodGet,
		URL:    s.url,
		Headers: map[string]string{
			"Range": fmt.Sprintf("bytes=%d-%d", start, end-1),
		},
		MaxResponseBodyBytes: end - start + 1,
	})
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("upload: media host ignored range request, responded %d", res.StatusCode)
	}
	if int64(len(res.Body)) != end-start {
		return nil, fmt.Errorf("upload: short range read from %s: wanted %d bytes, got %d", s.url, end-start, len(res.Body))
	}
	return res.Body, nil
}

var _ core.ByteRangeSource = (*HTTPSource)(nil)
