package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diekhans/zfs-zipper/internal/clock"
)

func TestParseWithFileSystem(t *testing.T) {
	s, err := Parse("tank/data@zipper_2024-03-01T12:00:00_nightly")
	require.NoError(t, err)
	assert.Equal(t, "tank/data", s.FileSystemName)
	assert.Equal(t, "2024-03-01T12:00:00", s.Timestamp)
	assert.Equal(t, "nightly", s.BackupsetName)
	assert.Empty(t, s.LegacySuffix)
}

func TestParseBareName(t *testing.T) {
	s, err := Parse("zipper_2024-03-01T12:00:00_nightly")
	require.NoError(t, err)
	assert.Empty(t, s.FileSystemName)
	assert.Equal(t, "nightly", s.BackupsetName)
}

func TestParseLegacySuffix(t *testing.T) {
	for _, suffix := range []string{"full", "incr"} {
		s, err := Parse("tank@zipper_2024-03-01T12:00:00_nightly_" + suffix)
		require.NoError(t, err)
		assert.Equal(t, "nightly", s.BackupsetName)
		assert.Equal(t, suffix, s.LegacySuffix)
	}
}

func TestParseRejectsForeignName(t *testing.T) {
	_, err := Parse("tank@some-other-tool_2024-03-01T12:00:00_nightly")
	assert.Error(t, err)
}

func TestParseNormalizesFileSystem(t *testing.T) {
	s, err := Parse("tank//data@zipper_2024-03-01T12:00:00_nightly")
	require.NoError(t, err)
	assert.Equal(t, "tank/data", s.FileSystemName)
}

func TestFormatRoundTrip(t *testing.T) {
	raw := "tank/data@zipper_2024-03-01T12:00:00_nightly"
	s, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, s.FormatWithFS())
	assert.Equal(t, "zipper_2024-03-01T12:00:00_nightly", s.FormatWithoutFS())
}

func TestFormatWithFSEmptyFileSystem(t *testing.T) {
	s, err := Parse("zipper_2024-03-01T12:00:00_nightly")
	require.NoError(t, err)
	assert.Equal(t, s.FormatWithoutFS(), s.FormatWithFS())
}

func TestCreateFromExistingPreservesIdentity(t *testing.T) {
	src, err := Parse("tank/data@zipper_2024-03-01T12:00:00_nightly_full")
	require.NoError(t, err)
	dst := CreateFromExisting(src, "backup/tank/data")
	assert.Equal(t, "backup/tank/data", dst.FileSystemName)
	assert.Equal(t, src.FormatWithoutFS(), dst.FormatWithoutFS())
}

func TestCreateCurrentSleepsAndStamps(t *testing.T) {
	now := time.Date(2024, 6, 15, 8, 30, 0, 0, time.UTC)
	f := clock.NewFake(now)
	s := CreateCurrent("nightly", "tank/data", f)
	assert.Equal(t, []time.Duration{2 * time.Second}, f.Slept)
	assert.Equal(t, "2024-06-15T08:30:00", s.Timestamp)
	assert.Equal(t, "nightly", s.BackupsetName)
	assert.Equal(t, "tank/data", s.FileSystemName)
	assert.Empty(t, s.LegacySuffix)
}

func TestIsOurs(t *testing.T) {
	assert.True(t, IsOurs("tank/data@zipper_2024-03-01T12:00:00_nightly"))
	assert.True(t, IsOurs("zipper_2024-03-01T12:00:00_nightly.tmp"))
	assert.False(t, IsOurs("tank/data@zfs-auto-snap_daily_2024-03-01T12:00:00Z"))
}
