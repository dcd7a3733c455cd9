package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// nodeRow is a flat bookmark_nodes row
type nodeRow struct {
	id        int64
	parentID  sql.NullInt64
	title     string
	url       sql.NullString
	dateAdded int64
	position  int
}

func (r nodeRow) node() Node {
	n := Node{
		ID:        strconv.FormatInt(r.id, 10),
		Title:     r.title,
		URL:       r.url.String,
		DateAdded: r.dateAdded,
		Index:     r.position,
	}
	if r.parentID.Valid {
		n.ParentID = strconv.FormatInt(r.parentID.Int64, 10)
	}
	return n
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", id, err)
	}
	return n, nil
}

func isRootID(id int64) bool {
	return id <= 2
}

// loadRows reads every node; the result is fully materialized so callers may
// issue further queries afterwards
func (s *Storage) loadRows(ctx context.Context) ([]nodeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, parent_id, title, url, date_added, position
		FROM bookmark_nodes
		ORDER BY parent_id, position, node_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load bookmark nodes: %w", err)
	}
	defer rows.Close()

	var out []nodeRow
	for rows.Next() {
		var r nodeRow
		if err := rows.Scan(&r.id, &r.parentID, &r.title, &r.url, &r.dateAdded, &r.position); err != nil {
			return nil, fmt.Errorf("failed to scan bookmark node: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookmark nodes: %w", err)
	}
	return out, nil
}

// Tree returns the whole bookmark tree rooted at the invisible root node
func (s *Storage) Tree(ctx context.Context) (Node, error) {
	rows, err := s.loadRows(ctx)
	if err != nil {
		return Node{}, err
	}

	// Rows arrive ordered by (parent, position) so children stay in order
	children := make(map[int64][]nodeRow)
	var root *nodeRow
	for i := range rows {
		r := rows[i]
		if !r.parentID.Valid {
			if r.id == 0 {
				root = &rows[i]
			}
			continue
		}
		children[r.parentID.Int64] = append(children[r.parentID.Int64], r)
	}
	if root == nil {
		return Node{}, fmt.Errorf("bookmark root is missing")
	}

	var build func(r nodeRow) Node
	build = func(r nodeRow) Node {
		n := r.node()
		for _, c := range children[r.id] {
			n.Children = append(n.Children, build(c))
		}
		return n
	}
	return build(*root), nil
}

// walk visits every node depth-first in display order
func walk(n Node, visit func(Node)) {
	visit(n)
	for _, c := range n.Children {
		walk(c, visit)
	}
}

// ListAll returns every bookmark in tree order
func (s *Storage) ListAll(ctx context.Context) ([]Bookmark, error) {
	tree, err := s.Tree(ctx)
	if err != nil {
		return nil, err
	}

	var bookmarks []Bookmark
	walk(tree, func(n Node) {
		if !n.IsFolder() {
			bookmarks = append(bookmarks, n.Bookmark())
		}
	})
	return bookmarks, nil
}

// ListFolders returns every folder except the invisible root
func (s *Storage) ListFolders(ctx context.Context) ([]Folder, error) {
	tree, err := s.Tree(ctx)
	if err != nil {
		return nil, err
	}

	var folders []Folder
	walk(tree, func(n Node) {
		if n.IsFolder() && n.ID != RootID {
			folders = append(folders, Folder{ID: n.ID, Title: n.Title, ParentID: n.ParentID})
		}
	})
	return folders, nil
}

// Get retrieves a single node without its children
func (s *Storage) Get(ctx context.Context, id string) (Node, error) {
	nodeID, err := parseID(id)
	if err != nil {
		return Node{}, err
	}

	var r nodeRow
	err = s.db.QueryRowContext(ctx, `
		SELECT node_id, parent_id, title, url, date_added, position
		FROM bookmark_nodes
		WHERE node_id = ?
	`, nodeID).Scan(&r.id, &r.parentID, &r.title, &r.url, &r.dateAdded, &r.position)
	if err == sql.ErrNoRows {
		return Node{}, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Node{}, fmt.Errorf("failed to get node: %w", err)
	}
	return r.node(), nil
}

// Children returns the direct children of a folder ordered by position
func (s *Storage) Children(ctx context.Context, folderID string) ([]Node, error) {
	parentID, err := parseID(folderID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, parent_id, title, url, date_added, position
		FROM bookmark_nodes
		WHERE parent_id = ?
		ORDER BY position, node_id
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var r nodeRow
		if err := rows.Scan(&r.id, &r.parentID, &r.title, &r.url, &r.dateAdded, &r.position); err != nil {
			return nil, fmt.Errorf("failed to scan child: %w", err)
		}
		nodes = append(nodes, r.node())
	}
	return nodes, rows.Err()
}

// Create adds a bookmark at the end of parentID
func (s *Storage) Create(ctx context.Context, title, url, parentID string) (Bookmark, error) {
	n, err := s.insertNode(ctx, title, sql.NullString{String: url, Valid: true}, parentID, time.Now().UnixMilli())
	if err != nil {
		return Bookmark{}, err
	}
	return n.Bookmark(), nil
}

// CreateFolder adds a folder at the end of parentID
func (s *Storage) CreateFolder(ctx context.Context, title, parentID string) (Folder, error) {
	n, err := s.insertNode(ctx, title, sql.NullString{}, parentID, time.Now().UnixMilli())
	if err != nil {
		return Folder{}, err
	}
	return Folder{ID: n.ID, Title: n.Title, ParentID: n.ParentID}, nil
}

func (s *Storage) insertNode(ctx context.Context, title string, url sql.NullString, parentID string, dateAdded int64) (Node, error) {
	pid, err := parseID(parentID)
	if err != nil {
		return Node{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Node{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Parent must exist and be a folder
	var parentURL sql.NullString
	err = tx.QueryRowContext(ctx, "SELECT url FROM bookmark_nodes WHERE node_id = ?", pid).Scan(&parentURL)
	if err == sql.ErrNoRows {
		return Node{}, fmt.Errorf("parent %s: %w", parentID, ErrNotFound)
	}
	if err != nil {
		return Node{}, fmt.Errorf("failed to look up parent: %w", err)
	}
	if parentURL.Valid {
		return Node{}, fmt.Errorf("parent %s is not a folder", parentID)
	}

	var position int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM bookmark_nodes WHERE parent_id = ?", pid).Scan(&position); err != nil {
		return Node{}, fmt.Errorf("failed to count siblings: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO bookmark_nodes (parent_id, title, url, date_added, position)
		VALUES (?, ?, ?, ?, ?)
	`, pid, title, url, dateAdded, position)
	if err != nil {
		return Node{}, fmt.Errorf("failed to insert node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Node{}, fmt.Errorf("failed to retrieve node_id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Node{}, fmt.Errorf("failed to commit node: %w", err)
	}

	return nodeRow{
		id:        id,
		parentID:  sql.NullInt64{Int64: pid, Valid: true},
		title:     title,
		url:       url,
		dateAdded: dateAdded,
		position:  position,
	}.node(), nil
}

// UpdateTitle renames a node
func (s *Storage) UpdateTitle(ctx context.Context, id, title string) error {
	nodeID, err := parseID(id)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "UPDATE bookmark_nodes SET title = ? WHERE node_id = ?", title, nodeID)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes a node; folders are removed with their whole subtree
func (s *Storage) Delete(ctx context.Context, id string) error {
	nodeID, err := parseID(id)
	if err != nil {
		return err
	}
	if isRootID(nodeID) {
		return fmt.Errorf("cannot delete root folder %s", id)
	}

	rows, err := s.loadRows(ctx)
	if err != nil {
		return err
	}

	var target *nodeRow
	children := make(map[int64][]int64)
	for i, r := range rows {
		if r.id == nodeID {
			target = &rows[i]
		}
		if r.parentID.Valid {
			children[r.parentID.Int64] = append(children[r.parentID.Int64], r.id)
		}
	}
	if target == nil {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}

	// Collect the subtree
	doomed := []int64{nodeID}
	for i := 0; i < len(doomed); i++ {
		doomed = append(doomed, children[doomed[i]]...)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, d := range doomed {
		if _, err := tx.ExecContext(ctx, "DELETE FROM bookmark_nodes WHERE node_id = ?", d); err != nil {
			return fmt.Errorf("failed to delete node %d: %w", d, err)
		}
	}

	// Close the gap left among the siblings
	if _, err := tx.ExecContext(ctx, `
		UPDATE bookmark_nodes SET position = position - 1
		WHERE parent_id = ? AND position > ?
	`, target.parentID.Int64, target.position); err != nil {
		return fmt.Errorf("failed to resequence siblings: %w", err)
	}

	return tx.Commit()
}

// Move re-parents and/or reorders a node
func (s *Storage) Move(ctx context.Context, id string, dest Destination) error {
	nodeID, err := parseID(id)
	if err != nil {
		return err
	}
	if isRootID(nodeID) {
		return fmt.Errorf("cannot move root folder %s", id)
	}
	newParent, err := parseID(dest.ParentID)
	if err != nil {
		return err
	}

	node, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	parent, err := s.Get(ctx, dest.ParentID)
	if err != nil {
		return err
	}
	if !parent.IsFolder() {
		return fmt.Errorf("destination %s is not a folder", dest.ParentID)
	}
	oldParent, _ := parseID(node.ParentID)

	// A folder cannot end up inside its own subtree
	for cur := parent; cur.ParentID != ""; {
		if cur.ID == node.ID {
			return fmt.Errorf("cannot move %s into its own subtree", id)
		}
		if cur, err = s.Get(ctx, cur.ParentID); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	siblings, err := siblingIDs(ctx, tx, newParent, nodeID)
	if err != nil {
		return err
	}

	index := dest.Index
	if index < 0 || index > len(siblings) {
		index = len(siblings)
	}
	ordered := make([]int64, 0, len(siblings)+1)
	ordered = append(ordered, siblings[:index]...)
	ordered = append(ordered, nodeID)
	ordered = append(ordered, siblings[index:]...)

	if _, err := tx.ExecContext(ctx, "UPDATE bookmark_nodes SET parent_id = ? WHERE node_id = ?", newParent, nodeID); err != nil {
		return fmt.Errorf("failed to move node: %w", err)
	}
	if err := resequence(ctx, tx, ordered); err != nil {
		return err
	}

	if oldParent != newParent {
		remaining, err := siblingIDs(ctx, tx, oldParent, nodeID)
		if err != nil {
			return err
		}
		if err := resequence(ctx, tx, remaining); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// siblingIDs lists the children of parent in order, leaving out exclude
func siblingIDs(ctx context.Context, tx *sql.Tx, parent, exclude int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT node_id FROM bookmark_nodes
		WHERE parent_id = ? AND node_id != ?
		ORDER BY position, node_id
	`, parent, exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to list siblings: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sibling: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func resequence(ctx context.Context, tx *sql.Tx, ordered []int64) error {
	for pos, id := range ordered {
		if _, err := tx.ExecContext(ctx, "UPDATE bookmark_nodes SET position = ? WHERE node_id = ?", pos, id); err != nil {
			return fmt.Errorf("failed to set position: %w", err)
		}
	}
	return nil
}

// Search finds bookmarks whose title or URL contains query, case-insensitively
func (s *Storage) Search(ctx context.Context, query string) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, parent_id, title, url, date_added, position
		FROM bookmark_nodes
		WHERE url IS NOT NULL
		  AND (instr(lower(title), lower(?)) > 0 OR instr(lower(url), lower(?)) > 0)
		ORDER BY node_id
	`, query, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search bookmarks: %w", err)
	}
	defer rows.Close()

	var out []Bookmark
	for rows.Next() {
		var r nodeRow
		if err := rows.Scan(&r.id, &r.parentID, &r.title, &r.url, &r.dateAdded, &r.position); err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		out = append(out, r.node().Bookmark())
	}
	return out, rows.Err()
}
