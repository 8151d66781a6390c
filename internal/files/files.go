// Package files manages the download directory layout, path containment
// checks, segment typing by extension and TTL cleanup.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/blockedby/channel-relay/internal/message"
)

// ErrOutsideRoot is returned when a resolved path escapes its root
// directory. Nothing is ever written or read through such a path.
var ErrOutsideRoot = fmt.Errorf("path escapes download root")

// Manager owns the download tree layout under a single root.
type Manager struct {
	root string
	log  zerolog.Logger
}

// NewManager creates a manager rooted at dir.
func NewManager(dir string, log zerolog.Logger) *Manager {
	return &Manager{root: dir, log: log}
}

// Root returns the download root directory.
func (m *Manager) Root() string {
	return m.root
}

// ChannelDir returns (and creates) the flat per-channel directory.
func (m *Manager) ChannelDir(channelKey string) (string, error) {
	dir := filepath.Join(m.root, Sanitize(channelKey))
	if err := m.CheckWithin(m.root, dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create channel dir: %w", err)
	}
	return dir, nil
}

// DestPath builds the destination path for one attachment inside the
// channel directory, validating containment.
func (m *Manager) DestPath(channelKey, name string) (string, error) {
	dir, err := m.ChannelDir(channelKey)
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, Sanitize(name))
	if err := m.CheckWithin(m.root, p); err != nil {
		return "", err
	}
	return p, nil
}

// CheckWithin verifies that path stays under root after resolution.
func (m *Manager) CheckWithin(root, path string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if absPath != absRoot && !strings.HasPrefix(absPath, absRoot+string(os.PathSeparator)) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return nil
}

// Sanitize strips path separators and traversal sequences from a name so it
// can only ever name a single path element.
func Sanitize(name string) string {
	name = strings.ReplaceAll(name, "..", "_")
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		default:
			return r
		}
	}, name)
	name = strings.TrimSpace(name)
	if name == "" {
		return "unnamed"
	}
	return name
}

// SegmentKind maps a file extension to the outbound segment type.
func SegmentKind(path string) message.SegmentKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return message.SegImage
	case ".mp4", ".mov", ".avi", ".mkv", ".webm":
		return message.SegVideo
	case ".mp3", ".ogg", ".oga", ".flac", ".wav", ".m4a", ".opus":
		return message.SegAudio
	default:
		return message.SegFile
	}
}

// Segment builds the typed segment for a downloaded file.
func Segment(path string) message.Segment {
	return message.Segment{Kind: SegmentKind(path), Path: path}
}
