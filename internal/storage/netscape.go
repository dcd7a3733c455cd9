package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
)

// ImportStats counts what an import created
type ImportStats struct {
	Folders   int `json:"folders"`
	Bookmarks int `json:"bookmarks"`
}

// ImportNetscape reads a browser bookmark export (the NETSCAPE-Bookmark-file-1
// format every browser writes) and recreates its folders and bookmarks under
// parentID
func (s *Storage) ImportNetscape(ctx context.Context, r io.Reader, parentID string) (ImportStats, error) {
	var stats ImportStats

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return stats, fmt.Errorf("failed to parse bookmark export: %w", err)
	}

	top := doc.Find("dl").First()
	if top.Length() == 0 {
		return stats, fmt.Errorf("bookmark export has no <DL> list")
	}

	err = s.importList(ctx, top, parentID, &stats)
	logrus.Infof("Imported %d folders and %d bookmarks", stats.Folders, stats.Bookmarks)
	return stats, err
}

// importList walks one <DL>. The HTML parser nests a folder's <DL> inside
// its <DT>, next to the <H3> carrying the folder name.
func (s *Storage) importList(ctx context.Context, dl *goquery.Selection, parentID string, stats *ImportStats) error {
	for _, dt := range dl.ChildrenFiltered("dt").EachIter() {
		if err := ctx.Err(); err != nil {
			return err
		}

		if a := dt.ChildrenFiltered("a").First(); a.Length() > 0 {
			href, _ := a.Attr("href")
			if href == "" {
				continue
			}
			title := strings.TrimSpace(a.Text())
			if title == "" {
				title = href
			}
			if _, err := s.insertNode(ctx, title, sql.NullString{String: href, Valid: true}, parentID, addDateMillis(a)); err != nil {
				return fmt.Errorf("failed to import bookmark %s: %w", href, err)
			}
			stats.Bookmarks++
			continue
		}

		h3 := dt.ChildrenFiltered("h3").First()
		if h3.Length() == 0 {
			continue
		}
		folder, err := s.insertNode(ctx, strings.TrimSpace(h3.Text()), sql.NullString{}, parentID, addDateMillis(h3))
		if err != nil {
			return fmt.Errorf("failed to import folder %q: %w", h3.Text(), err)
		}
		stats.Folders++

		if sub := dt.ChildrenFiltered("dl").First(); sub.Length() > 0 {
			if err := s.importList(ctx, sub, folder.ID, stats); err != nil {
				return err
			}
		}
	}
	return nil
}

// addDateMillis converts the ADD_DATE attribute (unix seconds) to milliseconds
func addDateMillis(sel *goquery.Selection) int64 {
	raw, ok := sel.Attr("add_date")
	if !ok {
		return 0
	}
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return secs * 1000
}
