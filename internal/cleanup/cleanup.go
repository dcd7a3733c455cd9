// Package cleanup holds the one-shot operations that rewrite the bookmark
// tree: removing duplicates and dead entries, sorting, and the Sift folders
// categorized copies are placed in.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alvmarrod/bookmark-sift/internal/dedup"
	"github.com/alvmarrod/bookmark-sift/internal/storage"
	"github.com/sirupsen/logrus"
)

// SiftFolderName is the top-level folder holding categorized copies
const SiftFolderName = "Sift"

// Deleter removes nodes
type Deleter interface {
	Delete(ctx context.Context, id string) error
}

// TreeReader exposes the folder hierarchy
type TreeReader interface {
	Tree(ctx context.Context) (storage.Node, error)
}

// FolderCreator creates folders and can find existing ones
type FolderCreator interface {
	TreeReader
	CreateFolder(ctx context.Context, title, parentID string) (storage.Folder, error)
}

// Sorter reorders folder contents
type Sorter interface {
	ListFolders(ctx context.Context) ([]storage.Folder, error)
	Children(ctx context.Context, folderID string) ([]storage.Node, error)
	Move(ctx context.Context, id string, dest storage.Destination) error
}

// RemoveDuplicates keeps one bookmark per group and deletes the others.
// Returns how many bookmarks were removed.
func RemoveDuplicates(ctx context.Context, store Deleter, groups []dedup.DuplicateGroup) (int, error) {
	removed := 0
	for _, group := range groups {
		keep := dedup.SelectBookmarkToKeep(group)
		for _, b := range group.Bookmarks {
			if b.ID == keep.ID {
				continue
			}
			ok, err := deleteOne(ctx, store, b)
			if err != nil {
				return removed, err
			}
			if ok {
				removed++
			}
		}
	}
	return removed, nil
}

// DeleteBookmarks deletes every listed bookmark, for example a stale or dead
// list. Bookmarks already gone are skipped.
func DeleteBookmarks(ctx context.Context, store Deleter, bookmarks []storage.Bookmark) (int, error) {
	deleted := 0
	for _, b := range bookmarks {
		ok, err := deleteOne(ctx, store, b)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

func deleteOne(ctx context.Context, store Deleter, b storage.Bookmark) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := store.Delete(ctx, b.ID)
	if errors.Is(err, storage.ErrNotFound) {
		logrus.Debugf("Bookmark %s already removed", b.ID)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete bookmark %s: %w", b.ID, err)
	}
	return true, nil
}

// SortFolder orders a folder's children: subfolders first, then bookmarks,
// each alphabetically ignoring case
func SortFolder(ctx context.Context, store Sorter, folderID string) error {
	children, err := store.Children(ctx, folderID)
	if err != nil {
		return err
	}

	var folders, bookmarks []storage.Node
	for _, c := range children {
		if c.IsFolder() {
			folders = append(folders, c)
		} else {
			bookmarks = append(bookmarks, c)
		}
	}
	byTitle := func(nodes []storage.Node) {
		sort.SliceStable(nodes, func(i, j int) bool {
			return strings.ToLower(nodes[i].Title) < strings.ToLower(nodes[j].Title)
		})
	}
	byTitle(folders)
	byTitle(bookmarks)

	sorted := append(folders, bookmarks...)
	for i, n := range sorted {
		if err := store.Move(ctx, n.ID, storage.Destination{ParentID: folderID, Index: i}); err != nil {
			return fmt.Errorf("failed to move %s: %w", n.ID, err)
		}
	}
	return nil
}

// SortAllFolders sorts every folder and returns how many were visited
func SortAllFolders(ctx context.Context, store Sorter) (int, error) {
	folders, err := store.ListFolders(ctx)
	if err != nil {
		return 0, err
	}
	for _, f := range folders {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := SortFolder(ctx, store, f.ID); err != nil {
			return 0, fmt.Errorf("failed to sort folder %q: %w", f.Title, err)
		}
	}
	return len(folders), nil
}

// BookmarkPaths maps each requested id to the " / " joined titles of its
// ancestor folders, or "Root" when it has none with a title
func BookmarkPaths(ctx context.Context, store TreeReader, ids []string) (map[string]string, error) {
	tree, err := store.Tree(ctx)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	paths := make(map[string]string, len(ids))
	var visit func(n storage.Node, ancestors []string)
	visit = func(n storage.Node, ancestors []string) {
		if wanted[n.ID] {
			if len(ancestors) == 0 {
				paths[n.ID] = "Root"
			} else {
				paths[n.ID] = strings.Join(ancestors, " / ")
			}
		}
		next := ancestors
		if n.Title != "" {
			next = append(append([]string(nil), ancestors...), n.Title)
		}
		for _, c := range n.Children {
			visit(c, next)
		}
	}
	visit(tree, nil)

	return paths, nil
}

// CreateSiftFolder finds or creates the Sift folder under the bookmarks bar
// and creates a subfolder in it named name, or today's date when empty
func CreateSiftFolder(ctx context.Context, store FolderCreator, name string, now time.Time) (storage.Folder, error) {
	if name == "" {
		name = now.UTC().Format("2006-01-02")
	}

	tree, err := store.Tree(ctx)
	if err != nil {
		return storage.Folder{}, err
	}

	siftID := findFolder(tree, SiftFolderName)
	if siftID == "" {
		root, err := store.CreateFolder(ctx, SiftFolderName, storage.BookmarksBarID)
		if err != nil {
			return storage.Folder{}, fmt.Errorf("failed to create %s folder: %w", SiftFolderName, err)
		}
		siftID = root.ID
	}

	folder, err := store.CreateFolder(ctx, name, siftID)
	if err != nil {
		return storage.Folder{}, fmt.Errorf("failed to create folder %q: %w", name, err)
	}
	return folder, nil
}

// findFolder returns the id of the first folder titled title, depth-first
func findFolder(n storage.Node, title string) string {
	if n.IsFolder() && n.Title == title {
		return n.ID
	}
	for _, c := range n.Children {
		if id := findFolder(c, title); id != "" {
			return id
		}
	}
	return ""
}
