package tasks

import (
	"errors"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/storage"
)

// Persisted key-value slots, one per task type
const (
	DeadLinkCheckKey  = "deadLinkCheckState"
	CategorizationKey = "categorizationState"
)

// Status is the lifecycle position of a task
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Phase is the step a categorization run is in
type Phase string

const (
	PhaseAnalyzing Phase = "analyzing"
	PhaseCreating  Phase = "creating"
	PhaseDone      Phase = "done"
)

// ErrTaskSuperseded means the persisted state no longer belongs to the run
// trying to write it: it was cancelled, cleared, or taken over by another run
var ErrTaskSuperseded = errors.New("task superseded")

// TaskMeta is the lifecycle header shared by both task states
type TaskMeta struct {
	Status                Status     `json:"status"`
	RunID                 string     `json:"runId,omitempty"`
	CancellationRequested bool       `json:"cancellationRequested,omitempty"`
	StartedAt             *time.Time `json:"startedAt,omitempty"`
	CompletedAt           *time.Time `json:"completedAt,omitempty"`
	HeartbeatAt           *time.Time `json:"heartbeatAt,omitempty"`
	Error                 string     `json:"error,omitempty"`
}

// ownedBy reports whether runID may still write progress
func (m *TaskMeta) ownedBy(runID string) bool {
	return m.Status == StatusRunning && m.RunID == runID && !m.CancellationRequested
}

// abandoned reports whether a running state has not been touched for longer
// than after
func (m *TaskMeta) abandoned(now time.Time, after time.Duration) bool {
	if m.Status != StatusRunning {
		return false
	}
	last := m.HeartbeatAt
	if last == nil {
		last = m.StartedAt
	}
	return last == nil || now.Sub(*last) > after
}

func (m *TaskMeta) taskMeta() *TaskMeta { return m }

// metaHolder is implemented by every persisted task state through its
// embedded TaskMeta
type metaHolder interface {
	taskMeta() *TaskMeta
}

// DeadLinkCheckState is the persisted progress of a dead-link scan
type DeadLinkCheckState struct {
	TaskMeta
	Checked         int                `json:"checked"`
	Total           int                `json:"total"`
	CurrentBatch    int                `json:"currentBatch"`
	TotalBatches    int                `json:"totalBatches"`
	DeadLinks       []storage.Bookmark `json:"deadLinks"`
	NewDeadCount    int                `json:"newDeadCount"`
	CachedDeadCount int                `json:"cachedDeadCount"`
	Skipped         int                `json:"skipped"`
	FailedBatches   int                `json:"failedBatches,omitempty"`
}

// CategorizationState is the persisted progress of an AI categorization run
type CategorizationState struct {
	TaskMeta
	Phase             Phase                        `json:"phase,omitempty"`
	CurrentBatch      int                          `json:"currentBatch"`
	TotalBatches      int                          `json:"totalBatches"`
	TotalBookmarks    int                          `json:"totalBookmarks"`
	Suggestions       []storage.CategorySuggestion `json:"suggestions"`
	CategoriesCreated int                          `json:"categoriesCreated"`
	BookmarksCopied   int                          `json:"bookmarksCopied"`
	TotalToCopy       int                          `json:"totalToCopy"`
	TargetFolder      string                       `json:"targetFolder,omitempty"`
	RootFolderID      string                       `json:"rootFolderId,omitempty"`
	FailedBatches     int                          `json:"failedBatches,omitempty"`
}

// IdleDeadLinkState is the state reported before any scan was persisted
func IdleDeadLinkState() DeadLinkCheckState {
	return DeadLinkCheckState{TaskMeta: TaskMeta{Status: StatusIdle}, DeadLinks: []storage.Bookmark{}}
}

// IdleCategorizationState is the state reported before any run was persisted
func IdleCategorizationState() CategorizationState {
	return CategorizationState{TaskMeta: TaskMeta{Status: StatusIdle}, Suggestions: []storage.CategorySuggestion{}}
}

// StartResult acknowledges a start request. A refusal is not an error:
// Started is false and Message says why.
type StartResult struct {
	Started    bool   `json:"started"`
	Message    string `json:"message,omitempty"`
	RunID      string `json:"runId,omitempty"`
	Total      int    `json:"total"`
	Skipped    int    `json:"skipped"`
	CachedDead int    `json:"cachedDead"`
}

const msgAlreadyRunning = "already in progress"
