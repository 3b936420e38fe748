//go:build !embed_ffmpeg

package ffmpegexec

import "errors"

var errNoEmbedded = errors.New("embedded ffmpeg not available (built without the embed_ffmpeg tag)")

// extractEmbedded always fails in default builds so the package compiles
// without the binaries/ archives being present.
func extractEmbedded(_, _ string) (string, error) {
	return "", errNoEmbedded
}
