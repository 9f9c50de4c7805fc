package telegram

import (
	"sync"
	"time"
)

const (
	debounce  = 1200 * time.Millisecond
	maxPixels = 18_000_000
)

// photoBatch collects the photos of one album (or of quick successive
// single photos in a chat) until the debounce timer fires.
type photoBatch struct {
	ChatID       int64
	Key          string // "grp:<mediaGroupID>" | "chat:<chatID>"
	MediaGroupID string

	mu     sync.Mutex
	images [][]byte
	timer  *time.Timer
	done   bool // set once processBatch took the images
}
