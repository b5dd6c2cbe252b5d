package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/inspectrisk/pkg/models"
)

const sampleYAML = `version: "2024.3"
effective_date: "2024-07-01"
description: Heat wave measures
theme_multipliers:
  fast_food: 1.25
  bar: 1.1
season_multipliers:
  ete: 1.3
category_weights:
  critical:
    weight: 3.5
    closure_threshold: 1
    correction_delay_days: 0
thresholds:
  faible: 38
  moyen: 58
  eleve: 78
`

func TestDecode(t *testing.T) {
	rs, err := Decode([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "2024.3", rs.Version)
	assert.InDelta(t, 1.25, rs.ThemeMultipliers[models.ThemeFastFood], 1e-9)
	assert.InDelta(t, 1.3, rs.SeasonMultipliers[models.SeasonSummer], 1e-9)
	assert.Equal(t, 0, rs.CategoryWeights[models.SeverityCritical].CorrectionDelayDays)
	assert.Equal(t, models.Thresholds{Faible: 38, Moyen: 58, Eleve: 78}, rs.Thresholds)
	assert.Nil(t, rs.SizeMultipliers)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte("version: x\nunknown_field: 1\neffective_date: 2024-01-01\n"))
	assert.Error(t, err, "unknown fields are rejected")

	_, err = Decode([]byte("description: no version\n"))
	assert.Error(t, err)

	_, err = Decode([]byte("version: [broken"))
	assert.Error(t, err)
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	rs := models.DefaultRuleSet()

	require.NoError(t, WriteFile(path, rs))
	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, rs, got)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	adapter := NewAdapter(nil)
	w, err := NewWatcher(path, adapter, zerolog.Nop())
	require.NoError(t, err)
	defer w.Stop()

	assert.True(t, w.Reload())
	assert.Equal(t, "2024.3", adapter.Current().Version)
	assert.False(t, w.Reload(), "same version is ignored")

	require.NoError(t, os.WriteFile(path, []byte("version: [broken"), 0o600))
	assert.False(t, w.Reload())
	assert.Equal(t, 1, w.Stats().Failures)
	assert.Equal(t, 1, w.Stats().Reloads)
}

func TestWatcherPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	adapter := NewAdapter(nil)
	w, err := NewWatcher(path, adapter, zerolog.Nop())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	next := models.DefaultRuleSet()
	next.Version = "2024.9"
	require.Eventually(t, func() bool {
		// Rewrite until the watcher is running and sees the change
		_ = WriteFile(path, next)
		return adapter.Current().Version == "2024.9"
	}, 5*time.Second, 50*time.Millisecond)

	w.Stop()
	assert.False(t, w.Stats().Running)
}
