package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildTitle_ExpandsPlaceholder(t *testing.T) {
	got := BuildTitle("24/7 Stream | {GAMES}", []string{"Mario Kart", "zelda"})
	assert.Equal(t, "24/7 Stream | MARIO KART | ZELDA", got)
}

func TestBuildTitle_AppendsWhenTemplateHasNoPlaceholder(t *testing.T) {
	got := BuildTitle("My Stream", []string{"doom"})
	assert.Equal(t, "My Stream | DOOM", got)
}

func TestBuildTitle_EmptyTemplate(t *testing.T) {
	got := BuildTitle("", []string{"doom", "quake"})
	assert.Equal(t, "DOOM | QUAKE", got)
}

func TestBuildTitle_NoPlaylists(t *testing.T) {
	got := BuildTitle("Just Chatting", nil)
	assert.Equal(t, "Just Chatting", got)
}

func TestTruncateTitle_UnderLimitUnchanged(t *testing.T) {
	assert.Equal(t, "short", TruncateTitle("short", 140))
	assert.Equal(t, "untouched", TruncateTitle("untouched", 0))
}

func TestTruncateTitle_DropsTrailingSegments(t *testing.T) {
	title := "BASE | AAA | BBB | CCC"

	assert.Equal(t, "BASE | AAA | BBB", TruncateTitle(title, 17))
}

func TestTruncateTitle_KeepsTrailingSeparatorWhenItFits(t *testing.T) {
	title := "BASE | AAA | BBB | CCC"

	// Dropping CCC leaves 16 runes; the separator fits within 20 and
	// signals the list was cut.
	assert.Equal(t, "BASE | AAA | BBB | ", TruncateTitle(title, 20))
}

func TestTruncateTitle_HardCutsAnOversizedFirstSegment(t *testing.T) {
	assert.Equal(t, "ABCDE", TruncateTitle("ABCDEFGHIJ", 5))
}

func TestTruncateTitle_CountsRunesNotBytes(t *testing.T) {
	assert.Equal(t, "ééé", TruncateTitle("ééééé", 3))
}
