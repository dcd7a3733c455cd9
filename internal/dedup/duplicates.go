package dedup

import "github.com/alvmarrod/bookmark-sift/internal/storage"

// DuplicateGroup is a set of bookmarks sharing one normalized URL
type DuplicateGroup struct {
	NormalizedURL string             `json:"normalizedUrl"`
	Bookmarks     []storage.Bookmark `json:"bookmarks"`
}

// FindDuplicates groups bookmarks by normalized URL and returns only the
// groups with at least two members, in first-occurrence order of their key
func FindDuplicates(bookmarks []storage.Bookmark) []DuplicateGroup {
	index := make(map[string]int)
	var groups []DuplicateGroup

	for _, b := range bookmarks {
		key := Normalize(b.URL)
		if i, ok := index[key]; ok {
			groups[i].Bookmarks = append(groups[i].Bookmarks, b)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, DuplicateGroup{NormalizedURL: key, Bookmarks: []storage.Bookmark{b}})
	}

	duplicates := make([]DuplicateGroup, 0, len(groups))
	for _, g := range groups {
		if len(g.Bookmarks) > 1 {
			duplicates = append(duplicates, g)
		}
	}
	return duplicates
}

// SelectBookmarkToKeep returns the most recently added member. A missing
// DateAdded counts as 0 and ties keep the earlier member.
func SelectBookmarkToKeep(group DuplicateGroup) storage.Bookmark {
	if len(group.Bookmarks) == 0 {
		return storage.Bookmark{}
	}

	best := group.Bookmarks[0]
	for _, b := range group.Bookmarks[1:] {
		if b.DateAdded > best.DateAdded {
			best = b
		}
	}
	return best
}

// DuplicateCount is the number of bookmarks that would be removed if every
// group were collapsed to one survivor
func DuplicateCount(groups []DuplicateGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.Bookmarks) - 1
	}
	return n
}
