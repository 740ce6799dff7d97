package auction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item is read-only from the core's point of view; the engine only needs
// the base price as the floor for the first bid.
type Item struct {
	ID        uuid.UUID       `json:"itemId"`
	SellerID  uuid.UUID       `json:"sellerId"`
	Name      string          `json:"name"`
	BasePrice decimal.Decimal `json:"basePrice"`
	CreatedAt time.Time       `json:"createdAt"`
}
