package items

import (
	"context"

	itemsrepo "github.com/danmarauda/server/internal/server/repositories/items"
)

// TransferCalculator selects the longest prefix of a query's item stream
// whose total content size fits a byte budget.
type TransferCalculator struct {
	repo itemsrepo.Repository
}

func NewTransferCalculator(repo itemsrepo.Repository) *TransferCalculator {
	return &TransferCalculator{repo: repo}
}

// ComputeUUIDsToFetch walks the (uuid, content_size) projection of the query
// in stream order, accumulating sizes. The first item is always included
// even when it alone exceeds the budget, so oversized items cannot stall the
// sync. The returned flag reports whether the budget cut the stream short.
func (c *TransferCalculator) ComputeUUIDsToFetch(ctx context.Context, query *itemsrepo.Query, budget int) ([]string, bool, error) {
	sizes, err := c.repo.FindContentSizes(ctx, query)
	if err != nil {
		return nil, false, err
	}

	var selected []string
	total := 0
	for i, s := range sizes {
		if i == 0 {
			selected = append(selected, s.UUID)
			total = s.ContentSize
			if total > budget {
				break
			}
			continue
		}
		if total+s.ContentSize > budget {
			break
		}
		selected = append(selected, s.UUID)
		total += s.ContentSize
	}

	return selected, len(selected) < len(sizes), nil
}
