package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNamesSorted(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_events.sql", names[0])
	for _, n := range names {
		assert.True(t, strings.HasSuffix(n, ".sql"))
	}
}

func TestEventsMigrationCreatesConditionTables(t *testing.T) {
	raw, err := migrationsFS.ReadFile("migrations/001_events.sql")
	require.NoError(t, err)
	sql := string(raw)
	for _, table := range []string{"events", "reel_carousel_events", "feed_carousel_events", "feed_video_events", "reel_video_events"} {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
}
