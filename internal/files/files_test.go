package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/channel-relay/internal/message"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain name kept", "photo.jpg", "photo.jpg"},
		{"traversal neutralized", "../../etc/passwd", "____etc_passwd"},
		{"separators replaced", "a/b\\c", "a_b_c"},
		{"forbidden chars replaced", `a:b*c?d"e<f>g|h`, "a_b_c_d_e_f_g_h"},
		{"empty becomes unnamed", "", "unnamed"},
		{"whitespace only becomes unnamed", "   ", "unnamed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestCheckWithin(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, zerolog.Nop())

	assert.NoError(t, m.CheckWithin(root, filepath.Join(root, "chan", "file.bin")))
	assert.NoError(t, m.CheckWithin(root, root))

	err := m.CheckWithin(root, filepath.Join(root, "..", "outside.bin"))
	assert.ErrorIs(t, err, ErrOutsideRoot)

	// a sibling directory sharing the root's name prefix is still outside
	err = m.CheckWithin(root, root+"-evil/file.bin")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestDestPath_SanitizesAndContains(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, zerolog.Nop())

	p, err := m.DestPath("news", "../escape.bin")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, root+string(os.PathSeparator)))
	assert.Equal(t, "__escape.bin", filepath.Base(p))

	// channel dir is created on the way
	info, err := os.Stat(filepath.Join(root, "news"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSegmentKind(t *testing.T) {
	tests := []struct {
		path string
		want message.SegmentKind
	}{
		{"a.jpg", message.SegImage},
		{"a.PNG", message.SegImage},
		{"a.webp", message.SegImage},
		{"a.mp4", message.SegVideo},
		{"a.mkv", message.SegVideo},
		{"a.mp3", message.SegAudio},
		{"a.ogg", message.SegAudio},
		{"a.pdf", message.SegFile},
		{"noext", message.SegFile},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SegmentKind(tt.path), tt.path)
	}
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweep_RemovesStaleFilesAndEmptyDirs(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, zerolog.Nop())
	now := time.Now()
	stale := now.Add(-48 * time.Hour)

	touch(t, filepath.Join(root, "news", "old.jpg"), stale)
	touch(t, filepath.Join(root, "news", "fresh.jpg"), now)
	touch(t, filepath.Join(root, "gone", "old.mp4"), stale)

	res := m.Sweep(24*time.Hour, now)

	assert.Equal(t, 2, res.FilesRemoved)
	assert.Equal(t, 1, res.DirsRemoved)
	assert.Equal(t, 0, res.Errors)

	_, err := os.Stat(filepath.Join(root, "news", "fresh.jpg"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "gone"))
	assert.True(t, os.IsNotExist(err))
}

func TestSweep_DepthBound(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, zerolog.Nop())
	now := time.Now()
	stale := now.Add(-48 * time.Hour)

	parts := []string{root}
	for i := 0; i <= maxSweepDepth+2; i++ {
		parts = append(parts, "d")
	}
	deep := filepath.Join(parts...)
	touch(t, filepath.Join(deep, "old.bin"), stale)

	res := m.Sweep(24*time.Hour, now)

	// the file sits past the depth bound and must survive
	assert.Equal(t, 0, res.FilesRemoved)
	_, err := os.Stat(filepath.Join(deep, "old.bin"))
	assert.NoError(t, err)
}

func TestSweep_MissingRootCountsError(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent"), zerolog.Nop())
	res := m.Sweep(time.Hour, time.Now())
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 0, res.FilesRemoved)
}
