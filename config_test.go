package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStoreConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadStoreConfig(t *testing.T) {
	path := writeStoreConfig(t, `
backend: postgres
database_url: postgres://localhost:5432/postgres
database_name: sri_testing
results_dir: /var/lib/acceptor/results
`)
	sc, err := LoadStoreConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", sc.Backend)
	assert.Equal(t, "postgres://localhost:5432/postgres", sc.DatabaseURL)
	assert.Equal(t, "sri_testing", sc.DatabaseName)
	assert.Equal(t, "/var/lib/acceptor/results", sc.ResultsDir)
}

func TestLoadStoreConfigRejectsUnknownBackend(t *testing.T) {
	path := writeStoreConfig(t, "backend: mongodb\n")
	_, err := LoadStoreConfig(path)
	require.Error(t, err)
}

func TestLoadStoreConfigMissingFile(t *testing.T) {
	_, err := LoadStoreConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestNewStoreSelectsFileBackendByDefault(t *testing.T) {
	cfg := &Config{
		ResultsDir: t.TempDir(),
		Log:        log.New(),
	}
	store, err := cfg.NewStore(context.Background())
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, "file", store.Name())
}
