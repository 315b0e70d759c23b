package progress

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, path string) *Manager {
	t.Helper()
	m, err := NewManager(path, logrus.New())
	require.NoError(t, err)
	return m
}

func TestManager_MonotonicProgress(t *testing.T) {
	m := newManager(t, filepath.Join(t.TempDir(), "progress.db"))
	defer m.Close()

	assert.Zero(t, m.GetLastSampledBlock())

	require.NoError(t, m.UpdateProgress(100))
	require.NoError(t, m.UpdateProgress(102))
	require.NoError(t, m.UpdateProgress(101))

	assert.Equal(t, uint64(102), m.GetLastSampledBlock())
	assert.Equal(t, uint64(3), m.GetProgress().SessionSamples)
}

func TestManager_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")

	m := newManager(t, path)
	require.NoError(t, m.BindAccount("0x2f7397fd2d49e5b636ef44503771b17eded67620"))
	require.NoError(t, m.UpdateProgress(20137950))
	require.NoError(t, m.Close())

	m = newManager(t, path)
	defer m.Close()

	assert.Equal(t, uint64(20137950), m.GetLastSampledBlock())
	assert.Equal(t, "0x2f7397fd2d49e5b636ef44503771b17eded67620", m.GetProgress().Account)
	assert.False(t, m.GetProgress().LastUpdateTime.IsZero())
}

func TestManager_ResumeBlock(t *testing.T) {
	m := newManager(t, filepath.Join(t.TempDir(), "progress.db"))
	defer m.Close()

	assert.Equal(t, uint64(20137913), m.ResumeBlock(20137913))
	assert.Equal(t, uint64(0), m.ResumeBlock(0))

	require.NoError(t, m.UpdateProgress(20138000))
	assert.Equal(t, uint64(20138001), m.ResumeBlock(20137913))
	assert.Equal(t, uint64(20138001), m.ResumeBlock(0))

	// 配置的起始区块在进度之后时以配置为准
	assert.Equal(t, uint64(30000000), m.ResumeBlock(30000000))
}

func TestManager_BindAccountResetsOnChange(t *testing.T) {
	m := newManager(t, filepath.Join(t.TempDir(), "progress.db"))
	defer m.Close()

	require.NoError(t, m.BindAccount("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"))
	require.NoError(t, m.UpdateProgress(50))

	require.NoError(t, m.BindAccount("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	assert.Equal(t, uint64(50), m.GetLastSampledBlock())

	require.NoError(t, m.BindAccount("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))
	assert.Zero(t, m.GetLastSampledBlock())
	assert.Equal(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", m.GetProgress().Account)
}

func TestManager_ResetAndStats(t *testing.T) {
	m := newManager(t, filepath.Join(t.TempDir(), "progress.db"))
	defer m.Close()

	require.NoError(t, m.UpdateProgress(7))
	stats := m.GetStats()
	assert.Equal(t, uint64(7), stats["last_sampled_block"])
	assert.Contains(t, stats, "last_update_time")

	require.NoError(t, m.Reset())
	assert.Zero(t, m.GetLastSampledBlock())
	assert.NotContains(t, m.GetStats(), "last_update_time")
}
