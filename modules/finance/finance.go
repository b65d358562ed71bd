// Package finance invoices confirmed sales orders and records payments.
package finance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mindzen-erp/mindzen/internal/events"
	"github.com/mindzen-erp/mindzen/internal/kernel"
	"github.com/mindzen-erp/mindzen/modules/sales"
)

// Name is the module name used in manifests
const Name = "finance"

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrOpenInvoices    = errors.New("open invoices remain")
)

// Invoice bills a confirmed sales order
type Invoice struct {
	ID      int
	OrderID int
	Partner string
	Amount  float64
	Paid    bool
}

// Module is the finance implementation
type Module struct {
	svc    kernel.Services
	logger *zap.Logger

	invoices  []*Invoice
	confirmed events.SubscriptionID
}

// New creates the finance module
func New(svc kernel.Services) *Module {
	return &Module{
		svc:    svc,
		logger: svc.Logger().Named(Name),
	}
}

func (m *Module) PostInstall(ctx context.Context) error {
	id, err := m.svc.Events().Subscribe(sales.EventOrderConfirmed, events.Handle(m.onOrderConfirmed))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", sales.EventOrderConfirmed, err)
	}
	m.confirmed = id
	return nil
}

// PreUninstall refuses while invoices are unpaid
func (m *Module) PreUninstall(ctx context.Context) error {
	if open := len(m.Open()); open > 0 {
		return fmt.Errorf("%w: %d", ErrOpenInvoices, open)
	}
	m.svc.Events().Unsubscribe(sales.EventOrderConfirmed, m.confirmed)
	return nil
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.logger.Debug("Finance module shutting down", zap.Int("open_invoices", len(m.Open())))
	return nil
}

func (m *Module) onOrderConfirmed(ctx context.Context, p sales.OrderConfirmed) error {
	inv := &Invoice{
		ID:      len(m.invoices) + 1,
		OrderID: p.OrderID,
		Partner: p.Partner,
		Amount:  p.Total,
	}
	m.invoices = append(m.invoices, inv)
	m.logger.Info("Invoice created", zap.Int("invoice", inv.ID), zap.Int("order", p.OrderID), zap.Float64("amount", inv.Amount))
	return nil
}

// Invoices returns every invoice
func (m *Module) Invoices() []Invoice {
	out := make([]Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		out = append(out, *inv)
	}
	return out
}

// Open returns the unpaid invoices
func (m *Module) Open() []Invoice {
	var out []Invoice
	for _, inv := range m.invoices {
		if !inv.Paid {
			out = append(out, *inv)
		}
	}
	return out
}

// RegisterPayment marks an invoice as paid
func (m *Module) RegisterPayment(id int) error {
	if id < 1 || id > len(m.invoices) {
		return fmt.Errorf("%w: %d", ErrInvoiceNotFound, id)
	}
	m.invoices[id-1].Paid = true
	return nil
}
