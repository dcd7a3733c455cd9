package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Microseconds between 1601-01-01 (the WebKit epoch) and 1970-01-01
const webkitEpochOffsetMicros = 11644473600 * 1000 * 1000

// ChromeHistory reads visits from a Chromium "History" database
type ChromeHistory struct {
	db *sql.DB
}

// OpenChromeHistory opens a History file read-only. The browser holds a lock
// on the live file while running, so pointing this at a copy is safer.
func OpenChromeHistory(path string) (*ChromeHistory, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=2000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// Test connection and that this looks like a History file
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('urls', 'visits')").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read history database: %w", err)
	}
	if n != 2 {
		db.Close()
		return nil, fmt.Errorf("%s is not a browser history database", path)
	}

	return &ChromeHistory{db: db}, nil
}

// Visits implements Lookup
func (c *ChromeHistory) Visits(ctx context.Context, url string) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT v.visit_time
		FROM visits v
		JOIN urls u ON u.id = v.url
		WHERE u.url = ?
	`, url)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	var visits []int64
	for rows.Next() {
		var micros int64
		if err := rows.Scan(&micros); err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		visits = append(visits, WebkitToUnixMillis(micros))
	}
	return visits, rows.Err()
}

// Close closes the database connection
func (c *ChromeHistory) Close() error {
	return c.db.Close()
}

// WebkitToUnixMillis converts a WebKit timestamp (microseconds since 1601)
// to unix milliseconds
func WebkitToUnixMillis(micros int64) int64 {
	return (micros - webkitEpochOffsetMicros) / 1000
}
