package subscription

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/twj0/subcheck-termux-ubuntu/internal/node"
)

// FetchError records a single subscription URL's failure without aborting
// the rest of a Collect batch.
type FetchError struct {
	URL string
	Err error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("subscription: %s: %v", e.URL, e.Err)
}

// CollectResult is the outcome of parsing a batch of subscription URLs:
// the deduplicated nodes in first-seen order, plus any per-URL failures.
type CollectResult struct {
	Nodes  []node.Node
	Errors []FetchError
}

// Collect fetches and parses every url, deduplicating nodes by
// node.Hash(server, port, type) and keeping the first occurrence, per
// spec.md §6. A single URL's fetch or parse failure is recorded in
// Errors and does not stop the rest of the batch from being processed.
func Collect(ctx context.Context, fetcher *Fetcher, urls []string) CollectResult {
	seen := xsync.NewMap[node.Hash, struct{}]()
	result := CollectResult{Nodes: make([]node.Node, 0, len(urls))}

	for _, url := range urls {
		body, err := fetcher.Fetch(ctx, url)
		if err != nil {
			result.Errors = append(result.Errors, FetchError{URL: url, Err: err})
			continue
		}

		nodes, err := ParseDocument(body)
		if err != nil {
			result.Errors = append(result.Errors, FetchError{URL: url, Err: err})
			continue
		}

		for _, n := range nodes {
			if !n.Valid() {
				continue
			}
			h := n.Hash()
			if _, loaded := seen.LoadOrStore(h, struct{}{}); loaded {
				continue
			}
			result.Nodes = append(result.Nodes, n)
		}
	}

	return result
}
