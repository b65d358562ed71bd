// Package crm manages leads and opportunities. Winning an opportunity
// publishes crm.opportunity.won for other modules to act on.
package crm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mindzen-erp/mindzen/internal/hooks"
	"github.com/mindzen-erp/mindzen/internal/kernel"
)

// Name is the module name used in manifests
const Name = "crm"

// EventOpportunityWon is published with an OpportunityWon payload
const EventOpportunityWon = "crm.opportunity.won"

var (
	ErrOpportunityNotFound = errors.New("opportunity not found")
	ErrOpportunityClosed   = errors.New("opportunity already closed")
)

// Stage is a step of the sales pipeline
type Stage string

const (
	StageNew         Stage = "new"
	StageQualified   Stage = "qualified"
	StageProposition Stage = "proposition"
	StageWon         Stage = "won"
	StageLost        Stage = "lost"
)

// DefaultPipeline is the pipeline created on install
var DefaultPipeline = []Stage{StageNew, StageQualified, StageProposition, StageWon, StageLost}

// Opportunity is a potential deal with a partner
type Opportunity struct {
	ID      int
	Name    string
	Partner string
	Amount  float64
	Stage   Stage
}

// Closed reports whether the opportunity was won or lost
func (o Opportunity) Closed() bool {
	return o.Stage == StageWon || o.Stage == StageLost
}

// OpportunityWon is the payload of EventOpportunityWon
type OpportunityWon struct {
	OpportunityID int
	Partner       string
	Amount        float64
}

// Module is the crm implementation
type Module struct {
	svc    kernel.Services
	logger *zap.Logger

	pipeline      []Stage
	opportunities map[int]*Opportunity
	nextID        int
}

// New creates the crm module
func New(svc kernel.Services) *Module {
	return &Module{
		svc:           svc,
		logger:        svc.Logger().Named(Name),
		opportunities: make(map[int]*Opportunity),
	}
}

// PostInstall creates the default pipeline
func (m *Module) PostInstall(ctx context.Context) error {
	m.pipeline = append([]Stage(nil), DefaultPipeline...)
	m.logger.Info("CRM module installed successfully", zap.Int("stages", len(m.pipeline)))
	return nil
}

func (m *Module) PreUninstall(ctx context.Context) error {
	m.logger.Info("Preparing to uninstall CRM module")
	return nil
}

func (m *Module) Shutdown(ctx context.Context) error {
	m.logger.Debug("CRM module shutting down")
	return nil
}

// Hooks returns the crm hook source
func (m *Module) Hooks() hooks.Source {
	return hooks.Source{
		hooks.OnModuleInstalled: m.onModuleInstalled,
	}
}

func (m *Module) onModuleInstalled(ctx context.Context, inv hooks.Invocation) (any, error) {
	switch inv.Module() {
	case "sales":
		m.logger.Info("Sales module detected - won opportunities become quotations")
	case "finance":
		m.logger.Info("Finance module detected - won revenue is invoiced on order confirmation")
	}
	return nil, nil
}

// Pipeline returns the pipeline stages in order
func (m *Module) Pipeline() []Stage {
	return append([]Stage(nil), m.pipeline...)
}

// CreateOpportunity adds an opportunity in the new stage
func (m *Module) CreateOpportunity(name, partner string, amount float64) (Opportunity, error) {
	if name == "" {
		return Opportunity{}, fmt.Errorf("opportunity name is required")
	}
	if amount < 0 {
		return Opportunity{}, fmt.Errorf("opportunity amount must not be negative, got %.2f", amount)
	}

	m.nextID++
	opp := &Opportunity{
		ID:      m.nextID,
		Name:    name,
		Partner: partner,
		Amount:  amount,
		Stage:   StageNew,
	}
	m.opportunities[opp.ID] = opp
	return *opp, nil
}

// Opportunity returns the opportunity with the given id
func (m *Module) Opportunity(id int) (Opportunity, bool) {
	opp, ok := m.opportunities[id]
	if !ok {
		return Opportunity{}, false
	}
	return *opp, true
}

// Win closes an open opportunity as won and publishes EventOpportunityWon
func (m *Module) Win(ctx context.Context, id int) error {
	opp, err := m.open(id)
	if err != nil {
		return err
	}
	opp.Stage = StageWon

	m.logger.Info("Opportunity won", zap.Int("opportunity", id), zap.Float64("amount", opp.Amount))
	m.svc.Events().Publish(ctx, EventOpportunityWon, OpportunityWon{
		OpportunityID: opp.ID,
		Partner:       opp.Partner,
		Amount:        opp.Amount,
	})
	return nil
}

// Lose closes an open opportunity as lost
func (m *Module) Lose(id int) error {
	opp, err := m.open(id)
	if err != nil {
		return err
	}
	opp.Stage = StageLost
	return nil
}

func (m *Module) open(id int) (*Opportunity, error) {
	opp, ok := m.opportunities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrOpportunityNotFound, id)
	}
	if opp.Closed() {
		return nil, fmt.Errorf("%w: %d is %s", ErrOpportunityClosed, id, opp.Stage)
	}
	return opp, nil
}
