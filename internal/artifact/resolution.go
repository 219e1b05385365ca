// Package artifact resolves per-step screenshots by probing a fixed list of
// remote endpoints and falling back to the full task status. Results,
// including confirmed absence, are cached until reset or an explicit re-probe.
package artifact

import (
	"mime"
	"strings"
)

// Kind tags a Resolution.
type Kind string

const (
	KindImage  Kind = "image"
	KindURL    Kind = "url"
	KindAbsent Kind = "absent"
)

// Resolution is the outcome of resolving one step's screenshot. Bytes and
// ContentType are set for KindImage, URL for KindURL.
type Resolution struct {
	Kind        Kind   `json:"kind"`
	ContentType string `json:"content_type,omitempty"`
	Bytes       []byte `json:"-"`
	URL         string `json:"url,omitempty"`
	// Source names the candidate or fallback that produced the result.
	Source string `json:"source,omitempty"`
}

// Found reports whether a screenshot was located.
func (r Resolution) Found() bool {
	return r.Kind == KindImage || r.Kind == KindURL
}

func imageResolution(source, contentType string, body []byte) Resolution {
	return Resolution{
		Kind:        KindImage,
		ContentType: contentType,
		Bytes:       append([]byte(nil), body...),
		Source:      source,
	}
}

func urlResolution(source, location string) Resolution {
	return Resolution{Kind: KindURL, URL: strings.TrimSpace(location), Source: source}
}

func absent() Resolution {
	return Resolution{Kind: KindAbsent}
}

func isImage(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.HasPrefix(mediaType, "image/")
}
