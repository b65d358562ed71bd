// Package purchase drafts purchase orders when inventory runs low and
// reports received goods back to inventory.
package purchase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mindzen-erp/mindzen/internal/events"
	"github.com/mindzen-erp/mindzen/internal/kernel"
	"github.com/mindzen-erp/mindzen/modules/inventory"
)

// Name is the module name used in manifests
const Name = "purchase"

var ErrOrderNotFound = errors.New("purchase order not found")

// State is the state of a purchase order
type State string

const (
	StateDraft    State = "draft"
	StateReceived State = "received"
)

// Order is a request for quotation until its goods are received
type Order struct {
	ID       int
	Product  string
	Quantity int
	State    State
}

// Module is the purchase implementation
type Module struct {
	svc    kernel.Services
	logger *zap.Logger

	orders   []*Order
	stockLow events.SubscriptionID
}

// New creates the purchase module
func New(svc kernel.Services) *Module {
	return &Module{
		svc:    svc,
		logger: svc.Logger().Named(Name),
	}
}

// PostInstall starts reordering on low stock
func (m *Module) PostInstall(ctx context.Context) error {
	id, err := m.svc.Events().Subscribe(inventory.EventStockLow, events.Handle(m.onStockLow))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", inventory.EventStockLow, err)
	}
	m.stockLow = id
	return nil
}

// PreUninstall refuses while purchase orders await their goods
func (m *Module) PreUninstall(ctx context.Context) error {
	if open := len(m.Drafts()); open > 0 {
		return fmt.Errorf("%d purchase orders are still open", open)
	}
	m.svc.Events().Unsubscribe(inventory.EventStockLow, m.stockLow)
	return nil
}

// onStockLow drafts an order bringing the product back to twice its
// threshold, unless one is already open
func (m *Module) onStockLow(ctx context.Context, p inventory.StockLow) error {
	for _, o := range m.orders {
		if o.Product == p.Product && o.State == StateDraft {
			return nil
		}
	}

	order := &Order{
		ID:       len(m.orders) + 1,
		Product:  p.Product,
		Quantity: 2*p.Threshold - p.Available,
		State:    StateDraft,
	}
	m.orders = append(m.orders, order)
	m.logger.Info("Purchase order drafted", zap.Int("order", order.ID), zap.String("product", order.Product), zap.Int("quantity", order.Quantity))
	return nil
}

// Drafts returns the orders awaiting their goods
func (m *Module) Drafts() []Order {
	var out []Order
	for _, o := range m.orders {
		if o.State == StateDraft {
			out = append(out, *o)
		}
	}
	return out
}

// Receive marks the goods of a draft order as received and reports them to
// inventory
func (m *Module) Receive(ctx context.Context, id int) error {
	if id < 1 || id > len(m.orders) {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	order := m.orders[id-1]
	if order.State != StateDraft {
		return fmt.Errorf("purchase order %d is already %s", id, order.State)
	}
	order.State = StateReceived

	m.svc.Events().Publish(ctx, inventory.EventGoodsReceived, inventory.GoodsReceived{
		Product:  order.Product,
		Quantity: order.Quantity,
	})
	return nil
}
