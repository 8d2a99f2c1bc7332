package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMergeLines(t *testing.T) {
	resp := `Docs + Papers -> Documents
- Vids + Clips + Movies -> Video

this line is commentary and gets skipped
Lonely -> NotEnoughSources
 + -> Nothing`

	got := ParseMergeLines(resp)
	require.Len(t, got, 2)

	assert.Equal(t, []string{"Docs", "Papers"}, got[0].Sources)
	assert.Equal(t, "Documents", got[0].Target)
	assert.Equal(t, []string{"Vids", "Clips", "Movies"}, got[1].Sources)
	assert.Equal(t, "Video", got[1].Target)
}

func TestParseMergeLinesSentinel(t *testing.T) {
	assert.Nil(t, ParseMergeLines("NO_MERGES"))
	assert.Nil(t, ParseMergeLines("I think NO_MERGES is appropriate here."))
	assert.Nil(t, ParseMergeLines(""))
	assert.Nil(t, ParseMergeLines("   \n\n  "))
}

func TestParseMergeLinesBestEffort(t *testing.T) {
	// Garbage in, empty out; never panics, never errors.
	assert.Nil(t, ParseMergeLines("-> -> ->\n+++\nno arrows here"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Tax Documents", sanitizeName("  \"Tax Documents\"  \nextra line", 40))
	assert.Equal(t, "", sanitizeName("a name that is far too long to be a usable category label", 40))
	assert.Equal(t, "", sanitizeName("   ", 40))
}
