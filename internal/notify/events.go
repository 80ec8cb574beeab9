package notify

import "fmt"

// Typed producers for the notification kinds the inventory handlers emit.
// Everything below is convenience for callers; the core routes any payload.

// TransferRequested notifies managers that a stock transfer awaits approval.
func TransferRequested(product string, qty int, actionURL string) BroadcastRequest {
	return BroadcastRequest{
		TargetRole: RoleManager,
		Notification: Payload{
			Message:     "Stock transfer requested",
			Description: fmt.Sprintf("%s (qty %d) awaits approval", product, qty),
			ActionURL:   actionURL,
			Quantity:    qty,
			Product:     product,
		}.Raw(),
	}
}

// TransferResolved notifies the requesting user that their transfer was
// approved or rejected.
func TransferResolved(userID, product string, qty int, approved bool) BroadcastRequest {
	verb := "rejected"
	if approved {
		verb = "approved"
	}
	return BroadcastRequest{
		TargetUsers: []string{userID},
		Notification: Payload{
			Message:     "Stock transfer " + verb,
			Description: fmt.Sprintf("%s (qty %d) was %s", product, qty, verb),
			Quantity:    qty,
			Product:     product,
		}.Raw(),
	}
}

// StockAdjusted notifies keepers of an inventory adjustment.
func StockAdjusted(warehouse, product, adjustmentType string, qty int) BroadcastRequest {
	return BroadcastRequest{
		TargetRole: RoleKeeper,
		Notification: Payload{
			Message:        "Stock Adjustment",
			Description:    fmt.Sprintf("%s: %s adjusted by %d", warehouse, product, qty),
			Quantity:       qty,
			AdjustmentType: adjustmentType,
			Product:        product,
			Warehouse:      warehouse,
		}.Raw(),
	}
}

// LowStock alerts everyone that a product dropped below its threshold.
func LowStock(product string, qty int) BroadcastRequest {
	return BroadcastRequest{
		Type: TypeGlobal,
		Notification: Payload{
			Message:     "Stock low",
			Description: fmt.Sprintf("%s is down to %d units", product, qty),
			Quantity:    qty,
			Product:     product,
		}.Raw(),
	}
}
