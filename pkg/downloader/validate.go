package downloader

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidSource is returned when a download URL fails validation. The
// check runs before any subprocess is spawned.
var ErrInvalidSource = errors.New("unsupported download source")

var allowedHosts = map[string]struct{}{
	"youtube.com":       {},
	"www.youtube.com":   {},
	"m.youtube.com":     {},
	"music.youtube.com": {},
	"youtu.be":          {},
}

// ValidateURL checks that raw is a well-formed URL from a supported source.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%w: url is empty", ErrInvalidSource)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidSource, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if _, ok := allowedHosts[host]; !ok {
		return fmt.Errorf("%w: host %q", ErrInvalidSource, host)
	}
	return nil
}
