// Package inventory tracks stock on hand and creates pickings for confirmed
// sales orders.
//
// When sales is installed, every confirmed order reaches inventory through
// the sales.order_confirmed hook; the resulting Picking is returned to the
// caller as the hook result.
package inventory

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/mindzen-erp/mindzen/internal/events"
	"github.com/mindzen-erp/mindzen/internal/hooks"
	"github.com/mindzen-erp/mindzen/internal/kernel"
)

// Name is the module name used in manifests
const Name = "inventory"

const (
	// EventStockLow is published with a StockLow payload when a picking
	// takes a product below the reorder threshold
	EventStockLow = "inventory.stock.low"
	// EventGoodsReceived is handled by inventory to add stock
	EventGoodsReceived = "inventory.goods.received"
)

// salesOrderConfirmed is the hook sales executes when inventory is installed
const salesOrderConfirmed hooks.Name = "sales.order_confirmed"

// DefaultThreshold is the reorder threshold of every product
const DefaultThreshold = 5

// Move takes a quantity of a product out of stock
type Move struct {
	Product  string
	Quantity int
}

// Picking groups the moves of one sales order
type Picking struct {
	ID      int
	OrderID int
	Moves   []Move
}

// StockLow is the payload of EventStockLow
type StockLow struct {
	Product   string
	Available int
	Threshold int
}

// GoodsReceived is the payload of EventGoodsReceived
type GoodsReceived struct {
	Product  string
	Quantity int
}

// Module is the inventory implementation
type Module struct {
	svc    kernel.Services
	logger *zap.Logger

	threshold int
	stock     map[string]int
	pickings  []Picking
	receiving events.SubscriptionID
}

// New creates the inventory module
func New(svc kernel.Services) *Module {
	return &Module{
		svc:       svc,
		logger:    svc.Logger().Named(Name),
		threshold: DefaultThreshold,
		stock:     make(map[string]int),
	}
}

// PostInstall hooks into sales order confirmation and starts receiving goods
func (m *Module) PostInstall(ctx context.Context) error {
	m.svc.Hooks().RegisterFor(Name, salesOrderConfirmed, m.createPicking)

	id, err := m.svc.Events().Subscribe(EventGoodsReceived, events.Handle(m.onGoodsReceived))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", EventGoodsReceived, err)
	}
	m.receiving = id
	m.logger.Info("Inventory module installed successfully")
	return nil
}

// PreUninstall stops receiving goods
func (m *Module) PreUninstall(ctx context.Context) error {
	m.svc.Events().Unsubscribe(EventGoodsReceived, m.receiving)
	return nil
}

// Hooks returns the inventory hook source
func (m *Module) Hooks() hooks.Source {
	return hooks.Source{
		hooks.OnModuleInstalled: func(ctx context.Context, inv hooks.Invocation) (any, error) {
			if inv.Module() == "purchase" {
				m.logger.Info("Purchase module detected - low stock triggers purchase orders")
			}
			return nil, nil
		},
	}
}

// SetStock sets the quantity on hand of product
func (m *Module) SetStock(product string, quantity int) {
	m.stock[product] = quantity
}

// OnHand returns the quantity on hand of product
func (m *Module) OnHand(product string) int {
	return m.stock[product]
}

// Pickings returns the pickings created so far
func (m *Module) Pickings() []Picking {
	return append([]Picking(nil), m.pickings...)
}

// createPicking handles sales.order_confirmed. It expects an "order_id" int
// and a "products" map[string]int of quantities.
func (m *Module) createPicking(ctx context.Context, inv hooks.Invocation) (any, error) {
	orderID, ok := inv.Args["order_id"].(int)
	if !ok {
		return nil, fmt.Errorf("%s: missing order_id", inv.Hook)
	}
	products, _ := inv.Args["products"].(map[string]int)

	names := make([]string, 0, len(products))
	for product := range products {
		names = append(names, product)
	}
	sort.Strings(names)

	picking := Picking{ID: len(m.pickings) + 1, OrderID: orderID}
	for _, product := range names {
		qty := products[product]
		if qty <= 0 {
			continue
		}
		m.stock[product] -= qty
		picking.Moves = append(picking.Moves, Move{Product: product, Quantity: qty})

		if available := m.stock[product]; available < m.threshold {
			m.logger.Warn("Stock below threshold", zap.String("product", product), zap.Int("available", available))
			m.svc.Events().Publish(ctx, EventStockLow, StockLow{
				Product:   product,
				Available: available,
				Threshold: m.threshold,
			})
		}
	}
	m.pickings = append(m.pickings, picking)

	m.logger.Info("Picking created", zap.Int("picking", picking.ID), zap.Int("order", orderID), zap.Int("moves", len(picking.Moves)))
	return picking, nil
}

func (m *Module) onGoodsReceived(ctx context.Context, p GoodsReceived) error {
	if p.Quantity <= 0 {
		return fmt.Errorf("received quantity of %s must be positive, got %d", p.Product, p.Quantity)
	}
	m.stock[p.Product] += p.Quantity
	m.logger.Info("Goods received", zap.String("product", p.Product), zap.Int("quantity", p.Quantity))
	return nil
}
