package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/collectible-exchange/auction-backend/internal/domain/auction"
	domainerrors "github.com/collectible-exchange/auction-backend/internal/domain/errors"
)

// itemRepository implements auction.ItemStore over PostgreSQL. The core
// only reads items; writes belong to the listing workflow.
type itemRepository struct {
	db Querier
}

// NewItemRepository creates a new item repository.
func NewItemRepository(db Querier) auction.ItemStore {
	return &itemRepository{db: db}
}

func (r *itemRepository) GetItem(ctx context.Context, id uuid.UUID) (*auction.Item, error) {
	query := `
		SELECT item_id, seller_id, name, base_price::text, created_at
		FROM items
		WHERE item_id = $1
	`
	var (
		item      auction.Item
		basePrice string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&item.ID, &item.SellerID, &item.Name, &basePrice, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrItemNotFound
		}
		return nil, domainerrors.NewTransientError("durable", "failed to get item").WithCause(err)
	}

	if item.BasePrice, err = decimal.NewFromString(basePrice); err != nil {
		return nil, fmt.Errorf("parsing base_price: %w", err)
	}
	return &item, nil
}
