package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodian-hq/custodian/pkg/rules/store"
)

const seedYAML = `rules:
  - name: stale-movies
    enabled: true
    media_type: movie
    criteria:
      operator: and
      conditions:
        - kind: never_watched
        - kind: added_before
          value: 6
          time_unit: months
    action_type: unmonitor_and_delete
    action_delay_days: 7
    schedule: "0 3 * * *"
  - name: audit-large-files
    enabled: true
    media_type: movie
    criteria:
      operator: or
      conditions:
        - kind: min_file_size
          value: 20
          size_unit: GB
    action_type: flag_for_review
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	rules, err := LoadFile(writeSeed(t, seedYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "stale-movies", rules[0].Name)
	assert.Equal(t, 7, rules[0].ActionDelayDays)
	assert.Len(t, rules[0].Criteria.Conditions, 2)
}

func TestLoadFile_InvalidRuleFailsLoad(t *testing.T) {
	broken := `rules:
  - name: broken
    enabled: true
    media_type: movie
    criteria:
      operator: and
      conditions:
        - kind: min_file_size
          value: -5
          size_unit: GB
    action_type: auto_delete
`
	_, err := LoadFile(writeSeed(t, broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "movies.yaml"), []byte(seedYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	rules, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func TestSeederApply_CreatesAndUpdates(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seeder := NewSeeder(s, nil)
	path := writeSeed(t, seedYAML)

	created, updated, err := seeder.Apply(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, 0, updated)

	first, err := s.GetByName(ctx, "stale-movies")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	// Re-applying matches by name and keeps the stored identity.
	created, updated, err = seeder.Apply(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Equal(t, 2, updated)

	again, err := s.GetByName(ctx, "stale-movies")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)
}
