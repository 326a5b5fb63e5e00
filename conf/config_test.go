package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := NewCfg().Load(&CommandLineArgs{})
	assert.Equal(t, 32, cfg.DiskBlocks)
	assert.Equal(t, 1024, cfg.BufferPoolSize)
	assert.Equal(t, "none", cfg.KvCompression)
	assert.Equal(t, "", cfg.DiskFile)
}

func TestLoadIniFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nandfs.ini")
	content := `
[nandfs]
data-dir         = /tmp/xnandfs
disk-file        = nand.img
disk-blocks      = 64
buffer-pool-size = 2048
kv-compression   = lz4
log-level        = debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := NewCfg().Load(&CommandLineArgs{ConfigPath: path})
	assert.Equal(t, "/tmp/xnandfs", cfg.DataDir)
	assert.Equal(t, "nand.img", cfg.DiskFile)
	assert.Equal(t, 64, cfg.DiskBlocks)
	assert.Equal(t, 2048, cfg.BufferPoolSize)
	assert.Equal(t, "lz4", cfg.KvCompression)
	assert.Equal(t, "debug", cfg.LogLevel)
}
