package rotation

import (
	"strings"

	"github.com/jmylchreest/rotarr/internal/models"
)

// Select picks the playlists for the next rotation from the candidates,
// which must already be in repository order (least recently played first,
// priority breaking ties). Names in exclude are skipped; the caller passes
// the names whose next-rotation download already completed, since re-picking
// those would wipe staged content.
//
// The result size is len(candidates) clamped to [minCount, maxCount], holds
// at least one long-form playlist whenever any exists, and preserves the
// candidate ordering.
func Select(candidates []*models.Playlist, exclude map[string]bool, minCount, maxCount int) []*models.Playlist {
	if minCount < 1 {
		minCount = 1
	}
	if maxCount < minCount {
		maxCount = minCount
	}

	allowed := filterExcluded(candidates, exclude)
	if len(allowed) == 0 {
		return nil
	}

	target := len(allowed)
	if target > maxCount {
		target = maxCount
	}
	if target < minCount {
		target = minCount
	}
	if target > len(allowed) {
		target = len(allowed)
	}

	var long, short []*models.Playlist
	for _, p := range allowed {
		if p.IsShort {
			short = append(short, p)
		} else {
			long = append(long, p)
		}
	}

	// A rotation of nothing but shorts burns through content too fast.
	wantLong := minCount - 1
	if wantLong < 1 {
		wantLong = 1
	}
	if wantLong > target {
		wantLong = target
	}
	if wantLong > len(long) {
		wantLong = len(long)
	}

	chosen := make(map[string]bool, target)
	taken := 0
	for _, p := range long[:wantLong] {
		chosen[nameKey(p.Name)] = true
		taken++
	}
	for _, p := range short {
		if taken >= target {
			break
		}
		chosen[nameKey(p.Name)] = true
		taken++
	}
	// Too few shorts: top up with more long-form.
	for _, p := range long[wantLong:] {
		if taken >= target {
			break
		}
		chosen[nameKey(p.Name)] = true
		taken++
	}

	out := make([]*models.Playlist, 0, taken)
	for _, p := range allowed {
		if chosen[nameKey(p.Name)] {
			out = append(out, p)
		}
	}
	return out
}

// SelectManual filters the candidates down to the requested names,
// case-insensitively, keeping repository order. The exclusion set applies
// the same way as for automatic selection.
func SelectManual(candidates []*models.Playlist, requested []string, exclude map[string]bool) []*models.Playlist {
	want := make(map[string]bool, len(requested))
	for _, name := range requested {
		want[nameKey(name)] = true
	}

	var out []*models.Playlist
	for _, p := range filterExcluded(candidates, exclude) {
		if want[nameKey(p.Name)] {
			out = append(out, p)
		}
	}
	return out
}

// ExcludeCompleted builds the selection exclusion set from a session's
// next-rotation statuses: only COMPLETED names are off-limits. PENDING ones
// stay selectable because their staged files are presumed incomplete.
func ExcludeCompleted(session *models.RotationSession) map[string]bool {
	if session == nil || len(session.NextPlaylistsStatus) == 0 {
		return nil
	}
	exclude := make(map[string]bool)
	for name, status := range session.NextPlaylistsStatus {
		if status == models.NextStatusCompleted {
			exclude[nameKey(name)] = true
		}
	}
	return exclude
}

func filterExcluded(candidates []*models.Playlist, exclude map[string]bool) []*models.Playlist {
	out := make([]*models.Playlist, 0, len(candidates))
	for _, p := range candidates {
		if p == nil || exclude[nameKey(p.Name)] {
			continue
		}
		out = append(out, p)
	}
	return out
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
