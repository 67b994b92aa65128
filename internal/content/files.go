// Package content manages the on-disk video folders rotarr rotates through:
// listing playable files, the NN_ ordering prefix, and the wholesale folder
// operations used by content switches.
package content

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ArchiveFile is the yt-dlp download archive kept alongside downloaded
// videos. It is never treated as content and never moved between folders.
const ArchiveFile = "archive.txt"

// videoExtensions is the allow-list of playable container extensions.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".webm": true,
	".flv":  true,
	".mov":  true,
}

// orderPrefixRe matches the two-digit rotation ordering prefix, e.g. "03_".
var orderPrefixRe = regexp.MustCompile(`^\d{2}_`)

// IsVideoFile reports whether the filename has a playable video extension.
func IsVideoFile(name string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(name))]
}

// HasOrderPrefix reports whether the filename carries an ordering prefix.
func HasOrderPrefix(name string) bool {
	return orderPrefixRe.MatchString(name)
}

// StripOrderPrefix removes the ordering prefix, if present. The database
// stores filenames unprefixed, so every lookup passes through here.
func StripOrderPrefix(name string) string {
	return orderPrefixRe.ReplaceAllString(name, "")
}

// OrderPrefix formats the ordering prefix for a 1-based rotation position.
func OrderPrefix(position int) string {
	return fmt.Sprintf("%02d_", position)
}

// SanitizeName converts a playlist name into the filesystem-safe form the
// downloader embeds in filenames. Matching file-to-playlist relies on the
// same transformation on both sides.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ListVideos returns the playable filenames in dir, sorted ascending. The
// sort order is the playback order the media source follows.
func ListVideos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsVideoFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ListVideoPaths returns the absolute paths of the playable files in dir,
// sorted ascending, ready for the media source playlist.
func ListVideoPaths(dir string) ([]string, error) {
	names, err := ListVideos(dir)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(abs, name)
	}
	return paths, nil
}

// FirstVideo returns the alphabetically-first playable filename in dir, or
// empty when the folder holds no videos.
func FirstVideo(dir string) (string, error) {
	names, err := ListVideos(dir)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return names[0], nil
}

// CountVideos returns the number of playable files in dir.
func CountVideos(dir string) (int, error) {
	names, err := ListVideos(dir)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// MatchPlaylist finds which of the given playlist names a downloaded file
// belongs to, using the sanitized-name filename convention. The longest
// matching name wins so "retro" never claims "retro classics" files.
// Returns the matched index into names, or -1.
func MatchPlaylist(filename string, names []string) int {
	base := StripOrderPrefix(filename)
	best := -1
	bestLen := 0
	for i, name := range names {
		prefix := SanitizeName(name) + "_"
		if len(prefix) > bestLen && strings.HasPrefix(base, prefix) {
			best = i
			bestLen = len(prefix)
		}
	}
	return best
}

// ApplyOrderPrefixes renames every playable file in dir so its name carries
// the two-digit position of its playlist in orderedNames (1-based). Files
// that match no playlist keep their name; an existing prefix is replaced.
func ApplyOrderPrefixes(dir string, orderedNames []string) error {
	names, err := ListVideos(dir)
	if err != nil {
		return err
	}

	for _, name := range names {
		idx := MatchPlaylist(name, orderedNames)
		if idx < 0 {
			continue
		}
		want := OrderPrefix(idx+1) + StripOrderPrefix(name)
		if want == name {
			continue
		}
		if err := os.Rename(filepath.Join(dir, name), filepath.Join(dir, want)); err != nil {
			return fmt.Errorf("prefixing %s: %w", name, err)
		}
	}
	return nil
}

// PrefixedName returns the on-disk name a file takes once its playlist's
// ordering prefix is applied.
func PrefixedName(filename string, position int) string {
	return OrderPrefix(position) + StripOrderPrefix(filename)
}
