// Package sales manages quotations and sales orders.
//
// Won crm opportunities become draft quotations. Confirming an order runs
// the sales.order_confirmed hook when inventory is installed and publishes
// sales.order.confirmed.
package sales

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mindzen-erp/mindzen/internal/events"
	"github.com/mindzen-erp/mindzen/internal/hooks"
	"github.com/mindzen-erp/mindzen/internal/kernel"
	"github.com/mindzen-erp/mindzen/modules/crm"
)

// Name is the module name used in manifests
const Name = "sales"

// EventOrderConfirmed is published with an OrderConfirmed payload
const EventOrderConfirmed = "sales.order.confirmed"

// HookOrderConfirmed runs on order confirmation while inventory is
// installed. Its arguments are "order_id" (int) and "products"
// (map[string]int).
const HookOrderConfirmed hooks.Name = "sales.order_confirmed"

const inventoryInstalled = "module_installed:inventory"

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderState    = errors.New("invalid order state")
)

// State is the state of an order
type State string

const (
	StateDraft     State = "draft"
	StateConfirmed State = "confirmed"
	StateCancelled State = "cancelled"
)

// Line is one product line of an order
type Line struct {
	Product   string
	Quantity  int
	UnitPrice float64
}

// Subtotal returns quantity times unit price
func (l Line) Subtotal() float64 {
	return float64(l.Quantity) * l.UnitPrice
}

// Order is a quotation until confirmed
type Order struct {
	ID            int
	Partner       string
	Lines         []Line
	State         State
	OpportunityID int
}

// Total returns the sum of the line subtotals
func (o Order) Total() float64 {
	var total float64
	for _, l := range o.Lines {
		total += l.Subtotal()
	}
	return total
}

// OrderConfirmed is the payload of EventOrderConfirmed
type OrderConfirmed struct {
	OrderID int
	Partner string
	Total   float64
	// Deliveries holds the sales.order_confirmed hook results, empty when
	// inventory is not installed
	Deliveries []any
}

// Module is the sales implementation
type Module struct {
	svc    kernel.Services
	logger *zap.Logger

	orders map[int]*Order
	nextID int
	won    events.SubscriptionID
}

// New creates the sales module
func New(svc kernel.Services) *Module {
	return &Module{
		svc:    svc,
		logger: svc.Logger().Named(Name),
		orders: make(map[int]*Order),
	}
}

// PostInstall turns won opportunities into quotations from now on
func (m *Module) PostInstall(ctx context.Context) error {
	id, err := m.svc.Events().Subscribe(crm.EventOpportunityWon, events.Handle(m.onOpportunityWon))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", crm.EventOpportunityWon, err)
	}
	m.won = id
	m.logger.Info("Sales module installed successfully")
	return nil
}

func (m *Module) PreUninstall(ctx context.Context) error {
	m.svc.Events().Unsubscribe(crm.EventOpportunityWon, m.won)
	return nil
}

func (m *Module) Shutdown(ctx context.Context) error {
	drafts := 0
	for _, o := range m.orders {
		if o.State == StateDraft {
			drafts++
		}
	}
	m.logger.Debug("Sales module shutting down", zap.Int("draft_orders", drafts))
	return nil
}

func (m *Module) onOpportunityWon(ctx context.Context, p crm.OpportunityWon) error {
	order, err := m.CreateOrder(p.Partner, []Line{{
		Product:   fmt.Sprintf("Opportunity #%d", p.OpportunityID),
		Quantity:  1,
		UnitPrice: p.Amount,
	}})
	if err != nil {
		return err
	}
	m.orders[order.ID].OpportunityID = p.OpportunityID
	m.logger.Info("Quotation created from won opportunity", zap.Int("order", order.ID), zap.Int("opportunity", p.OpportunityID))
	return nil
}

// CreateOrder creates a draft quotation
func (m *Module) CreateOrder(partner string, lines []Line) (Order, error) {
	if partner == "" {
		return Order{}, fmt.Errorf("order partner is required")
	}
	if len(lines) == 0 {
		return Order{}, fmt.Errorf("order needs at least one line")
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Order{}, fmt.Errorf("line %q: quantity must be positive", l.Product)
		}
	}

	m.nextID++
	order := &Order{
		ID:      m.nextID,
		Partner: partner,
		Lines:   append([]Line(nil), lines...),
		State:   StateDraft,
	}
	m.orders[order.ID] = order
	return *order, nil
}

// Order returns the order with the given id
func (m *Module) Order(id int) (Order, bool) {
	o, ok := m.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Orders returns the number of orders
func (m *Module) Orders() int {
	return len(m.orders)
}

// Confirm confirms a draft order
func (m *Module) Confirm(ctx context.Context, id int) (OrderConfirmed, error) {
	order, err := m.draft(id)
	if err != nil {
		return OrderConfirmed{}, err
	}
	order.State = StateConfirmed

	products := make(map[string]int, len(order.Lines))
	for _, l := range order.Lines {
		products[l.Product] += l.Quantity
	}

	deliveries, ran := m.svc.Hooks().ExecuteConditional(ctx, inventoryInstalled, HookOrderConfirmed, hooks.Args{
		"order_id": order.ID,
		"products": products,
	})
	if !ran {
		deliveries = []any{}
	}

	confirmed := OrderConfirmed{
		OrderID:    order.ID,
		Partner:    order.Partner,
		Total:      order.Total(),
		Deliveries: deliveries,
	}
	m.logger.Info("Order confirmed", zap.Int("order", order.ID), zap.Float64("total", confirmed.Total), zap.Int("deliveries", len(deliveries)))
	m.svc.Events().Publish(ctx, EventOrderConfirmed, confirmed)
	return confirmed, nil
}

// Cancel cancels a draft order
func (m *Module) Cancel(id int) error {
	order, err := m.draft(id)
	if err != nil {
		return err
	}
	order.State = StateCancelled
	return nil
}

func (m *Module) draft(id int) (*Order, error) {
	order, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if order.State != StateDraft {
		return nil, fmt.Errorf("%w: order %d is %s", ErrOrderState, id, order.State)
	}
	return order, nil
}
