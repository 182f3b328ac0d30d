package orders

import (
	"context"

	"gorm.io/gorm"

	"github.com/medimarthq/settlement-backend/pkg/db/models"
)

// InventoryReleaser returns reserved stock to inventory when a vendor's slice
// of an order is cancelled.
type InventoryReleaser interface {
	Release(ctx context.Context, tx *gorm.DB, item models.OrderLineItem) error
}

type inventoryReleaser struct{}

// NewInventoryReleaser returns the default releaser writing directly to the
// inventory_items table.
func NewInventoryReleaser() InventoryReleaser {
	return inventoryReleaser{}
}

func (inventoryReleaser) Release(ctx context.Context, tx *gorm.DB, item models.OrderLineItem) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE inventory_items
		 SET qty_available = qty_available + ?, updated_at = NOW()
		 WHERE vendor_id = ? AND product_id = ?`,
		item.Qty, item.VendorID, item.ProductID,
	).Error
}
