package storage

import "time"

// Well-known folder IDs seeded into every database. Bookmarks directly under
// one of these count as uncategorized.
const (
	RootID          = "0"
	BookmarksBarID  = "1"
	OtherBookmarkID = "2"
)

// RootFolderIDs lists the containers a bookmark can sit in without having
// been filed anywhere
var RootFolderIDs = []string{RootID, BookmarksBarID, OtherBookmarkID}

// Bookmark is a snapshot of a bookmark node. DateAdded and LastVisited are
// unix milliseconds, 0 when unknown.
type Bookmark struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	ParentID    string `json:"parentId,omitempty"`
	DateAdded   int64  `json:"dateAdded,omitempty"`
	LastVisited int64  `json:"lastVisited,omitempty"`
}

// Folder is a bookmark container
type Folder struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ParentID string `json:"parentId,omitempty"`
}

// Node is one entry of the bookmark tree, either a folder or a bookmark
type Node struct {
	ID        string `json:"id"`
	ParentID  string `json:"parentId,omitempty"`
	Title     string `json:"title"`
	URL       string `json:"url,omitempty"`
	DateAdded int64  `json:"dateAdded,omitempty"`
	Index     int    `json:"index"`
	Children  []Node `json:"children,omitempty"`
}

// IsFolder reports whether the node is a container
func (n Node) IsFolder() bool {
	return n.URL == ""
}

// Bookmark converts a URL node into a Bookmark
func (n Node) Bookmark() Bookmark {
	return Bookmark{
		ID:        n.ID,
		Title:     n.Title,
		URL:       n.URL,
		ParentID:  n.ParentID,
		DateAdded: n.DateAdded,
	}
}

// Destination describes where Move puts a node. A negative Index appends.
type Destination struct {
	ParentID string
	Index    int
}

// LinkStatus is the verdict of one reachability check
type LinkStatus string

const (
	StatusAlive   LinkStatus = "alive"
	StatusDead    LinkStatus = "dead"
	StatusTimeout LinkStatus = "timeout"
	StatusError   LinkStatus = "error"
)

// LinkCheckResult is the outcome of checking a single URL
type LinkCheckResult struct {
	URL        string     `json:"url"`
	Status     LinkStatus `json:"status"`
	StatusCode int        `json:"statusCode,omitempty"`
}

// CacheEntry records the last verdict for a raw URL
type CacheEntry struct {
	LastChecked time.Time  `json:"lastChecked"`
	Status      LinkStatus `json:"status"`
}

// CategorySuggestion groups bookmarks under a proposed folder name
type CategorySuggestion struct {
	FolderName string     `json:"folderName"`
	Bookmarks  []Bookmark `json:"bookmarks"`
}

// Metrics tracks run statistics for export on exit
type Metrics struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	LinksChecked      int       `json:"links_checked"`
	LinksAlive        int       `json:"links_alive"`
	LinksDead         int       `json:"links_dead"`
	LinksTimedOut     int       `json:"links_timed_out"`
	LinksErrored      int       `json:"links_errored"`
	CacheSkipped      int       `json:"cache_skipped"`
	BatchesFailed     int       `json:"batches_failed"`
	AIBatches         int       `json:"ai_batches"`
	AIBatchesFailed   int       `json:"ai_batches_failed"`
	FoldersCreated    int       `json:"folders_created"`
	BookmarksCopied   int       `json:"bookmarks_copied"`
	TotalCheckTimeMs  int64     `json:"total_check_time_ms"`
	AvgCheckTimeMs    int64     `json:"avg_check_time_ms"`
	TerminationReason string    `json:"termination_reason"`
}
