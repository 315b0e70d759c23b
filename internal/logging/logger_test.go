package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestNewLogger_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "watcher.log")
	logger, err := NewLogger(&LogConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	logger.Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	_, err := NewLogger(&LogConfig{Level: "verbose"})
	assert.Error(t, err)

	_, err = NewLogger(&LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestEntries(t *testing.T) {
	logger, hook := test.NewNullLogger()

	BlockEntry(logger, 12).Info("block")
	assert.Equal(t, uint64(12), hook.LastEntry().Data["block_number"])
	assert.Equal(t, "ingest", hook.LastEntry().Data["component"])

	RPCEntry(logger, "eth_getBalance", 146).Info("rpc")
	assert.Equal(t, int64(146), hook.LastEntry().Data["chain_id"])

	ComponentEntry(logger, "api").Info("api")
	assert.Equal(t, "api", hook.LastEntry().Data["component"])
}
