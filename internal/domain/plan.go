package domain

// Plan describes a purchasable report bundle.
type Plan struct {
	ID          string
	Name        string
	Description string
	PriceCents  int64
	Credits     int
	Discount    int // percent off vs buying the basic bundle repeatedly
}

// PlanCatalog is the immutable price table handed to the dispatcher at
// construction. Keyed by plan id as carried in checkout session metadata.
type PlanCatalog map[string]Plan

// DefaultPlanCatalog mirrors the production price table.
func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		"BASICO": {
			ID:          "BASICO",
			Name:        "Plano Básico",
			Description: "20 relatórios",
			PriceCents:  3500,
			Credits:     20,
		},
		"INTERMEDIARIO": {
			ID:          "INTERMEDIARIO",
			Name:        "Plano Intermediário",
			Description: "40 relatórios",
			PriceCents:  5500,
			Credits:     40,
			Discount:    22,
		},
		"AVANCADO": {
			ID:          "AVANCADO",
			Name:        "Plano Avançado",
			Description: "70 relatórios",
			PriceCents:  7500,
			Credits:     70,
			Discount:    46,
		},
	}
}

// ByName resolves a plan by its display name. Renewal invoices carry no
// metadata, so the plan has to be recovered from the subscription record.
func (c PlanCatalog) ByName(name string) (Plan, bool) {
	for _, p := range c {
		if p.Name == name {
			return p, true
		}
	}
	return Plan{}, false
}
