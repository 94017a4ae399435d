package cache

import (
	"context"

	"chronosend/internal/model"
)

// ReceiptCache holds the latest acknowledgment per transport message id.
type ReceiptCache interface {
	// Put stores r unless a newer value is already cached.
	Put(ctx context.Context, r model.Receipt) error
	Get(ctx context.Context, messageID string) (model.Receipt, bool, error)
}
