package downloader

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/blockedby/channel-relay/internal/message"
)

// Task priorities order execution only, never correctness.
const (
	PriorityVideo  = 2
	PriorityNormal = 1
	PriorityAudio  = 0
)

// Task is one attachment download. Created fresh per message per
// attachment, discarded after use, never persisted.
type Task struct {
	ID       uuid.UUID
	Kind     message.AttachmentKind
	FileID   string
	Dest     string
	Expected int64 // expected size in bytes, 0 if unknown
	Priority int
	Display  string // display metadata for logs and placeholders
}

func priorityFor(kind message.AttachmentKind) int {
	switch kind {
	case message.KindVideo:
		return PriorityVideo
	case message.KindAudio:
		return PriorityAudio
	default:
		return PriorityNormal
	}
}

// newTask builds a task for one attachment with its destination path.
func newTask(a message.Attachment, dest string) Task {
	display := a.FileName
	if display == "" {
		display = string(a.Kind)
	}
	return Task{
		ID:       uuid.New(),
		Kind:     a.Kind,
		FileID:   a.FileID,
		Dest:     dest,
		Expected: a.Size,
		Priority: priorityFor(a.Kind),
		Display:  display,
	}
}

// sortByPriority orders tasks highest priority first, stable so attachment
// order is preserved within a priority class.
func sortByPriority(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority > tasks[j].Priority
	})
}

// placeholder renders the visible failure text for a task, naming the
// original attachment kind.
func placeholder(kind message.AttachmentKind, display string) string {
	if display != "" && display != string(kind) {
		return fmt.Sprintf("[%s %q could not be downloaded]", kind, display)
	}
	return fmt.Sprintf("[%s could not be downloaded]", kind)
}
