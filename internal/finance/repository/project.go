package repository

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/finance/domain"
	"github.com/coophabitat/finance-engine/internal/finance/loan"
	"github.com/coophabitat/finance-engine/internal/finance/pricing"
	"github.com/coophabitat/finance-engine/internal/finance/roster"
)

// Project is everything the pricing engine needs about one shared purchase.
type Project struct {
	ID                 string    `json:"id" yaml:"id"`
	Name               string    `json:"name" yaml:"name"`
	DeedDate           time.Time `json:"deed_date" yaml:"deed_date"`
	TotalProjectCost   float64   `json:"total_project_cost" yaml:"total_project_cost"`
	TotalCarryingCosts float64   `json:"total_carrying_costs" yaml:"total_carrying_costs"`
	// RenovationStartDate nil means renovation is always part of the price.
	RenovationStartDate *time.Time `json:"renovation_start_date,omitempty" yaml:"renovation_start_date,omitempty"`
	RenovationCost      float64    `json:"renovation_cost" yaml:"renovation_cost"`
	// Formula nil means the deployment defaults apply.
	Formula        *domain.FormulaParams      `json:"formula,omitempty" yaml:"formula,omitempty"`
	Carrying       pricing.CarryingCostParams `json:"carrying" yaml:"carrying"`
	MaxPortageLots int                        `json:"max_portage_lots,omitempty" yaml:"max_portage_lots,omitempty"`
	Participants   []domain.Participant       `json:"participants" yaml:"participants"`
	// Costs are the participants' cost records keyed by participant id.
	Costs map[string]loan.Costs `json:"costs,omitempty" yaml:"costs,omitempty"`

	Version   int64     `json:"-" yaml:"-"`
	UpdatedAt time.Time `json:"-" yaml:"-"`
}

// Validate checks the project before it is priced or stored.
func (p Project) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return apperr.InvalidInput("project id is required")
	}
	if p.DeedDate.IsZero() {
		return apperr.InvalidInput("project %s has no deed date", p.ID)
	}
	if p.TotalProjectCost < 0 || p.TotalCarryingCosts < 0 || p.RenovationCost < 0 {
		return apperr.InvalidInput("project %s has negative costs", p.ID)
	}
	if p.Formula != nil {
		if err := p.Formula.Validate(); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(p.Participants))
	for _, part := range p.Participants {
		if part.ID == "" {
			return apperr.InvalidInput("project %s has a participant without id", p.ID)
		}
		if seen[part.ID] {
			return apperr.InvalidInput("project %s lists participant %s twice", p.ID, part.ID)
		}
		seen[part.ID] = true
	}
	if err := p.validateLots(); err != nil {
		return err
	}
	for id, c := range p.Costs {
		if !seen[id] {
			return apperr.Newf(apperr.CodeNotFound, "costs given for unknown participant %s", id)
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// validateLots rejects a lot held by two participants, including a lot
// recorded as sold that its seller still holds.
func (p Project) validateLots() error {
	owners := make(map[string]string)
	for _, part := range p.Participants {
		for _, lot := range part.Lots {
			if owner, ok := owners[lot.ID]; ok {
				return apperr.InvalidInput("project %s: lot %s is held by both %s and %s", p.ID, lot.ID, owner, part.ID)
			}
			owners[lot.ID] = part.ID
		}
	}
	for _, part := range p.Participants {
		pp, ok := part.Origin().(domain.PrivatePurchase)
		if !ok || pp.LotID == "" {
			continue
		}
		if owners[pp.LotID] == pp.SellerID {
			return apperr.InvalidInput("project %s: lot %s sold to %s is still held by %s", p.ID, pp.LotID, part.ID, pp.SellerID)
		}
	}
	return nil
}

// Roster returns the project's participants as a roster.
func (p Project) Roster() roster.Roster {
	r := roster.Roster{
		ProjectID:      p.ID,
		DeedDate:       p.DeedDate,
		MaxPortageLots: p.MaxPortageLots,
		Participants:   p.Participants,
	}
	return r.Clone()
}

// WithRoster returns a copy of the project carrying r's participants.
func (p Project) WithRoster(r roster.Roster) Project {
	out := p
	out.Participants = r.Clone().Participants
	return out
}

// ParseProject decodes a YAML project fixture.
func ParseProject(r io.Reader) (*Project, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Project
	if err := dec.Decode(&p); err != nil {
		if err == io.EOF {
			return nil, apperr.InvalidInput("project file is empty")
		}
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "decode project", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadProjectFile reads a YAML project fixture from disk.
func LoadProjectFile(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}
	return ParseProject(bytes.NewReader(data))
}
