package harmonizer

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	protocolPrefix     = regexp.MustCompile(`^\w+://`)
	unsafeFilename     = regexp.MustCompile(`[^A-Za-z0-9._\- ]`)
	repeatedUnderscore = regexp.MustCompile(`_{2,}`)
	repeatedDot        = regexp.MustCompile(`\.{2,}`)
)

// maxFilenameLength caps a sanitized filename to 255 bytes, preserving
// the extension rather than truncating it away.
const maxFilenameLength = 255

// SanitizeFilename neutralizes an untrusted client-supplied filename
// before it is ever used as a storage key or filesystem path component
// (§6): strips null bytes, double-URL-decodes, strips a leading protocol prefix,
// extracts the basename across both POSIX and Windows separators,
// replaces characters outside [A-Za-z0-9._- ] with '_', collapses
// repeated '_'/'.', and caps the result to 255 bytes.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")

	for i := 0; i < 2; i++ {
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
	}

	name = protocolPrefix.ReplaceAllString(name, "")

	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		name = "_"
	}

	name = unsafeFilename.ReplaceAllString(name, "_")
	name = repeatedUnderscore.ReplaceAllString(name, "_")
	name = repeatedDot.ReplaceAllString(name, ".")

	if len(name) > maxFilenameLength {
		ext := path.Ext(name)
		keep := maxFilenameLength - len(ext)
		if keep < 1 {
			keep = 1
			ext = ""
		}
		name = name[:keep] + ext
	}
	if name == "" {
		name = "_"
	}
	return name
}
