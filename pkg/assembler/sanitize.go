package assembler

import (
	"errors"
	"strings"
)

// ErrInvalidFilename is returned when a client-supplied filename cannot be
// reduced to a safe path component.
var ErrInvalidFilename = errors.New("invalid filename")

const filenameSafeRunes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789._- "

// SanitizeFilename restricts a client-supplied name to a safe character set
// before it is used as a path component under the media directory.
//
// Path separators and parent references are grounds for rejection, not
// escaping: a name that tries to traverse is a client error.
func SanitizeFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("filename is empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", errors.New("filename must not contain path separators or parent references")
	}

	var b strings.Builder
	for _, r := range name {
		if !strings.ContainsRune(filenameSafeRunes, r) {
			continue
		}
		if r == ' ' {
			r = '_'
		}
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "", errors.New("filename has no safe characters")
	}
	return out, nil
}
