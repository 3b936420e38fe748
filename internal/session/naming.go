package session

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

const maxTitleLen = 100

var (
	invalidName = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	runs        = regexp.MustCompile(`[\s_]+`)
	urlExt      = regexp.MustCompile(`\.([A-Za-z0-9]{1,5})$`)
)

// knownFormats are matched anywhere in a URL when its path has no extension.
var knownFormats = []string{
	"mp4", "webm", "mkv", "avi", "mov", "flv", "wmv", "m4v",
	"mp3", "wav", "flac", "aac", "ogg", "m4a",
}

// SanitizeTitle turns a page title into a file base name.
func SanitizeTitle(title string) string {
	name := invalidName.ReplaceAllString(title, "_")
	name = runs.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > maxTitleLen {
		name = strings.TrimRight(name[:maxTitleLen], "_")
	}
	if name == "" {
		return "download"
	}
	return name
}

// FileName picks the file name for a handed-off download. A browser-supplied
// filename wins; otherwise the title is sanitized and given an extension
// guessed from the URL.
func FileName(rawURL, title, filename string) string {
	if filename != "" {
		// browsers may send a path
		base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
		if base != "." && base != "/" && base != ".." {
			return base
		}
	}
	return SanitizeTitle(title) + "." + guessExt(rawURL)
}

func guessExt(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if m := urlExt.FindStringSubmatch(u.Path); m != nil {
			return strings.ToLower(m[1])
		}
	}
	lower := strings.ToLower(rawURL)
	for _, f := range knownFormats {
		if strings.Contains(lower, "."+f) || strings.Contains(lower, "format="+f) {
			return f
		}
	}
	if strings.Contains(lower, "video") || strings.Contains(lower, "youtube") || strings.Contains(lower, "tiktok") {
		return "mp4"
	}
	return "bin"
}
