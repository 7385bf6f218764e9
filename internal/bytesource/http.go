package bytesource

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// HTTPSource reads a remote resource via Range requests. It probes size
// with a HEAD (falling back to a one-byte range request when HEAD is
// rejected) and keeps no persistent state beyond the *http.Client.
type HTTPSource struct {
	url    string
	client *http.Client
	log    zerolog.Logger

	size int64

	maxAttempts int
	baseBackoff time.Duration
}

// Option configures an HTTPSource.
type Option func(*HTTPSource)

func WithClient(c *http.Client) Option { return func(h *HTTPSource) { h.client = c } }
func WithLogger(l zerolog.Logger) Option { return func(h *HTTPSource) { h.log = l } }
func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(h *HTTPSource) { h.maxAttempts = maxAttempts; h.baseBackoff = base }
}

// OpenHTTP probes url's size and returns a ready-to-use HTTPSource.
func OpenHTTP(ctx context.Context, url string, opts ...Option) (*HTTPSource, error) {
	h := &HTTPSource{
		url:         url,
		client:      &http.Client{Timeout: 0},
		log:         zerolog.Nop(),
		maxAttempts: 5,
		baseBackoff: 200 * time.Millisecond,
	}
	for _, o := range opts {
		o(h)
	}
	size, err := h.probeSize(ctx)
	if err != nil {
		return nil, err
	}
	h.size = size
	return h, nil
}

func (h *HTTPSource) probeSize(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.url, nil)
	if err != nil {
		return 0, IOError(err)
	}
	resp, err := h.doWithRetry(req)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if cl := resp.Header.Get("Content-Length"); cl != "" {
				if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
					return n, nil
				}
			}
		}
	}
	// HEAD unsupported or didn't carry Content-Length; probe with a
	// one-byte range request instead.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, IOError(err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err = h.doWithRetry(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		var total int64
		if _, err := fmt.Sscanf(cr, "bytes 0-0/%d", &total); err == nil {
			return total, nil
		}
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, IOError(fmt.Errorf("could not determine size of %s", h.url))
}

func (h *HTTPSource) ReadAt(ctx context.Context, p []byte, offset int64) (int, error) {
	if offset >= h.size {
		return 0, OutOfRange(offset, h.size)
	}
	end := offset + int64(len(p)) - 1
	if end >= h.size {
		end = h.size - 1
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, IOError(err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, end))
	resp, err := h.doWithRetry(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, IOError(fmt.Errorf("unexpected status %s for range request", resp.Status))
	}
	n, err := io.ReadFull(resp.Body, p[:end-offset+1])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return n, IOError(err)
	}
	return n, nil
}

func (h *HTTPSource) Size(ctx context.Context) (int64, error) { return h.size, nil }

func (h *HTTPSource) Close() error { return nil }

// doWithRetry retries transient network failures with exponential backoff
// up to h.maxAttempts, per spec.md §4.1. It does not retry non-transient
// HTTP status codes (4xx other than 429).
func (h *HTTPSource) doWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < h.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(h.baseBackoff) * math.Pow(2, float64(attempt-1)))
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(backoff):
			}
			h.log.Debug().Int("attempt", attempt).Str("url", h.url).Msg("retrying http byte-source request")
		}
		resp, err := h.client.Do(req.Clone(req.Context()))
		if err != nil {
			lastErr = IOError(err)
			continue
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = IOError(fmt.Errorf("transient http status %s", resp.Status))
			continue
		}
		if resp.StatusCode >= 400 {
			defer resp.Body.Close()
			return nil, IOError(fmt.Errorf("http status %s", resp.Status))
		}
		return resp, nil
	}
	return nil, lastErr
}
