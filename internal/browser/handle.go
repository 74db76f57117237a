package browser

import (
	"sync"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// Handle owns one launched browser. Close is idempotent: teardown runs once
// and the pool slot is always returned, even when teardown fails.
type Handle struct {
	browser scrape.Browser
	owner   string
	release func()

	once     sync.Once
	closeErr error
}

func newHandle(b scrape.Browser, owner string, release func()) *Handle {
	return &Handle{browser: b, owner: owner, release: release}
}

// Page returns the browser's page.
func (h *Handle) Page() scrape.Page {
	return h.browser.Page()
}

// Owner returns the label the handle was acquired for.
func (h *Handle) Owner() string {
	return h.owner
}

// Close tears the browser down and returns the first teardown error.
func (h *Handle) Close() error {
	h.once.Do(func() {
		defer h.release()
		h.closeErr = h.browser.Close()
	})
	return h.closeErr
}
