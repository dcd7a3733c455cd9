package ai

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/alvmarrod/bookmark-sift/internal/storage"
	"github.com/sirupsen/logrus"
)

const categoriesPrompt = `Analyze these bookmarks and suggest logical folder categories for organizing them. Group related bookmarks together based on topic, purpose, or domain.

Bookmarks:
%s

Respond in JSON format only:
{
  "categories": [
    {
      "folderName": "Category Name",
      "bookmarkIndices": [1, 2, 5]
    }
  ]
}

Be concise with folder names. Use common categories like: Development, Documentation, News, Social, Shopping, Entertainment, Finance, Learning, Tools, etc.`

const renamesPrompt = `These bookmarks have unclear titles. Suggest better, descriptive names based on the URLs.

Bookmarks:
%s

Respond in JSON format only:
{
  "renames": [
    {
      "index": 1,
      "suggestedTitle": "Descriptive Title"
    }
  ]
}

Keep titles concise (under 50 characters). Make them descriptive of the content.`

// RenameSuggestion proposes a clearer title for a bookmark
type RenameSuggestion struct {
	Bookmark       storage.Bookmark `json:"bookmark"`
	SuggestedTitle string           `json:"suggestedTitle"`
}

type categoriesReply struct {
	Categories []struct {
		FolderName      string `json:"folderName"`
		BookmarkIndices []int  `json:"bookmarkIndices"`
	} `json:"categories"`
}

type renamesReply struct {
	Renames []struct {
		Index          int    `json:"index"`
		SuggestedTitle string `json:"suggestedTitle"`
	} `json:"renames"`
}

// SuggestCategories asks for folder groupings of one batch of at most
// MaxBookmarksPerRequest bookmarks. Indices outside the batch and categories
// left empty are dropped.
func (c *Client) SuggestCategories(ctx context.Context, batch []storage.Bookmark) ([]storage.CategorySuggestion, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	if len(batch) > MaxBookmarksPerRequest {
		return nil, fmt.Errorf("batch of %d exceeds %d bookmarks", len(batch), MaxBookmarksPerRequest)
	}

	lines := make([]string, len(batch))
	for i, b := range batch {
		lines[i] = fmt.Sprintf("%d. %q - %s", i+1, b.Title, b.URL)
	}

	text, err := c.complete(ctx, fmt.Sprintf(categoriesPrompt, strings.Join(lines, "\n")))
	if err != nil {
		return nil, err
	}

	var reply categoriesReply
	if err := decodeJSON(text, &reply); err != nil {
		return nil, err
	}

	var suggestions []storage.CategorySuggestion
	for _, cat := range reply.Categories {
		var members []storage.Bookmark
		for _, idx := range cat.BookmarkIndices {
			if idx >= 1 && idx <= len(batch) {
				members = append(members, batch[idx-1])
			}
		}
		if len(members) > 0 && cat.FolderName != "" {
			suggestions = append(suggestions, storage.CategorySuggestion{
				FolderName: cat.FolderName,
				Bookmarks:  members,
			})
		}
	}
	return suggestions, nil
}

var hexLike = regexp.MustCompile(`^[a-f0-9-]+$`)

// UnclearTitle reports whether a title says nothing about the page
func UnclearTitle(title string) bool {
	t := strings.ToLower(title)
	return len(t) < 5 ||
		t == "untitled" ||
		strings.HasPrefix(t, "http") ||
		hexLike.MatchString(t)
}

// SuggestRenames proposes titles for the bookmarks whose title is unclear.
// A batch whose reply cannot be used is logged and skipped.
func (c *Client) SuggestRenames(ctx context.Context, bookmarks []storage.Bookmark) ([]RenameSuggestion, error) {
	var unclear []storage.Bookmark
	for _, b := range bookmarks {
		if UnclearTitle(b.Title) {
			unclear = append(unclear, b)
		}
	}

	var suggestions []RenameSuggestion
	for i := 0; i < len(unclear); i += MaxBookmarksPerRequest {
		batch := unclear[i:min(i+MaxBookmarksPerRequest, len(unclear))]

		lines := make([]string, len(batch))
		for j, b := range batch {
			lines[j] = fmt.Sprintf("%d. Current: %q | URL: %s", j+1, b.Title, b.URL)
		}

		text, err := c.complete(ctx, fmt.Sprintf(renamesPrompt, strings.Join(lines, "\n")))
		if errors.Is(err, ErrNoAPIKey) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return suggestions, ctxErr
		}
		if err != nil {
			logrus.Warnf("Rename batch %d failed: %v", i/MaxBookmarksPerRequest+1, err)
			continue
		}

		var reply renamesReply
		if err := decodeJSON(text, &reply); err != nil {
			logrus.Warnf("Rename batch %d: %v", i/MaxBookmarksPerRequest+1, err)
			continue
		}

		for _, r := range reply.Renames {
			if r.Index >= 1 && r.Index <= len(batch) && r.SuggestedTitle != "" {
				suggestions = append(suggestions, RenameSuggestion{
					Bookmark:       batch[r.Index-1],
					SuggestedTitle: r.SuggestedTitle,
				})
			}
		}
	}
	return suggestions, nil
}
