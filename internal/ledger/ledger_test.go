package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerMarkAndSeen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posted.txt")

	led, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer led.Close()

	assert.False(t, led.Seen("0xabc"))
	require.NoError(t, led.MarkSeen("0xabc"))
	assert.True(t, led.Seen("0xabc"))
	assert.Equal(t, 1, led.Len())
}

func TestLedgerMarkSeenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posted.txt")

	led, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer led.Close()

	require.NoError(t, led.MarkSeen("0xabc"))
	require.NoError(t, led.MarkSeen("0xabc"))
	require.NoError(t, led.MarkSeen("0xabc"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0xabc\n", string(data), "重复标记不应重复写入文件")
	assert.Equal(t, 1, led.Len())
}

func TestLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posted.txt")

	led, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, led.MarkSeen("0x1"))
	require.NoError(t, led.MarkSeen("0x2"))
	require.NoError(t, led.Close())

	reopened, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.Seen("0x1"))
	assert.True(t, reopened.Seen("0x2"))
	assert.False(t, reopened.Seen("0x3"))
}

func TestLedgerReloadMergesExternalAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posted.txt")

	led, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer led.Close()

	require.NoError(t, led.MarkSeen("0x1"))

	// Another process appends a hash behind our back.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("0xexternal\n\n  \n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, led.Reload())

	assert.True(t, led.Seen("0x1"), "reload 不应丢失内存中的条目")
	assert.True(t, led.Seen("0xexternal"))
	assert.Equal(t, 2, led.Len(), "空行应被忽略")
}

func TestLedgerReloadDeduplicatesFileLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posted.txt")
	require.NoError(t, os.WriteFile(path, []byte("0x1\n0x2\n0x1\n0x2\n0x1\n"), 0o644))

	led, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer led.Close()

	assert.Equal(t, 2, led.Len(), "重复行只应计入一次")

	require.NoError(t, led.Reload())
	assert.Equal(t, 2, led.Len(), "再次加载不应扩大集合")
	assert.True(t, led.Seen("0x1"))
	assert.True(t, led.Seen("0x2"))
}

func TestLedgerOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "posted.txt")

	led, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer led.Close()

	require.NoError(t, led.MarkSeen("0x1"))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
