package model

// LicensePlan is the closed set of purchasable plans. Each plan maps to a
// fixed set of limits and features; there is no per-license feature editing.
type LicensePlan string

const (
	PlanStarter      LicensePlan = "starter"
	PlanProfessional LicensePlan = "professional"
	PlanEnterprise   LicensePlan = "enterprise"
	PlanUnlimited    LicensePlan = "unlimited"
)

// PlanLimits holds the numeric caps for a plan. Zero means unlimited.
type PlanLimits struct {
	MaxUsers               int `json:"max_users"`
	MaxCustomers           int `json:"max_customers"`
	MaxProducts            int `json:"max_products"`
	MaxMonthlyTransactions int `json:"max_monthly_transactions"`
}

var planLimits = map[LicensePlan]PlanLimits{
	PlanStarter:      {MaxUsers: 5, MaxCustomers: 100, MaxProducts: 500, MaxMonthlyTransactions: 1000},
	PlanProfessional: {MaxUsers: 15, MaxCustomers: 1000, MaxProducts: 5000, MaxMonthlyTransactions: 10000},
	PlanEnterprise:   {MaxUsers: 50, MaxCustomers: 10000, MaxProducts: 50000, MaxMonthlyTransactions: 100000},
	PlanUnlimited:    {},
}

var planFeatures = map[LicensePlan][]string{
	PlanStarter:      {"sales", "inventory", "reports_basic"},
	PlanProfessional: {"sales", "inventory", "reports_basic", "reports_advanced", "api_access", "multi_branch"},
	PlanEnterprise:   {"sales", "inventory", "reports_basic", "reports_advanced", "api_access", "multi_branch", "audit_export", "priority_support"},
	PlanUnlimited:    {"sales", "inventory", "reports_basic", "reports_advanced", "api_access", "multi_branch", "audit_export", "priority_support", "white_label"},
}

// IsValid reports whether p is one of the known plans.
func (p LicensePlan) IsValid() bool {
	_, ok := planLimits[p]
	return ok
}

// Limits returns the fixed limits for the plan.
func (p LicensePlan) Limits() PlanLimits { return planLimits[p] }

// Features returns a copy of the plan's feature list.
func (p LicensePlan) Features() []string {
	fs := planFeatures[p]
	out := make([]string, len(fs))
	copy(out, fs)
	return out
}
