package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// discardLimit caps how much of an unwanted body is drained so the
// connection can go back to the pool.
const discardLimit = 64 << 10

// BodyTooLargeError reports a remote payload over the configured cap.
type BodyTooLargeError struct {
	Limit int64
	URL   string
}

func (e *BodyTooLargeError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("response body exceeds %d bytes", e.Limit)
	}
	return fmt.Sprintf("response from %s exceeds %d bytes", e.URL, e.Limit)
}

// IsBodyTooLarge reports whether err came from a capped read.
func IsBodyTooLarge(err error) bool {
	var tooLarge *BodyTooLargeError
	return errors.As(err, &tooLarge)
}

// ReadBody reads and closes resp.Body. A limit <= 0 reads everything. A
// declared Content-Length over the limit fails before any byte is read.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	if limit <= 0 {
		return io.ReadAll(resp.Body)
	}
	if resp.ContentLength > limit {
		return nil, tooLarge(resp, limit)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, tooLarge(resp, limit)
	}
	return data, nil
}

// Discard drains a body the caller does not need and closes it.
func Discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, discardLimit))
	resp.Body.Close()
}

func tooLarge(resp *http.Response, limit int64) *BodyTooLargeError {
	err := &BodyTooLargeError{Limit: limit}
	if resp.Request != nil && resp.Request.URL != nil {
		err.URL = resp.Request.URL.Redacted()
	}
	return err
}
