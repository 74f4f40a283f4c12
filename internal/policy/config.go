package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"dealguard/internal/domain"
)

// Config is the strongly typed rule configuration. It is validated once at
// startup; evaluation never has to re-check it.
type Config struct {
	// Weights maps every evidence category to its share of the
	// qualification score. Must cover the closed category set and sum to
	// exactly 100.
	Weights map[domain.EvidenceCategory]int `json:"weights"`

	// AdvanceThresholds is the minimum qualification score required to
	// advance into a stage. Must be monotonically non-decreasing across the
	// stage order: later stages never get cheaper.
	AdvanceThresholds map[domain.Stage]float64 `json:"advance_thresholds"`

	// ActionThresholds gates non-advance actions on qualification score.
	// Absent or zero means no qualification gate for that action.
	ActionThresholds map[domain.Action]float64 `json:"action_thresholds"`

	// ActionAuthority is the minimum actor authority per action.
	ActionAuthority map[domain.Action]domain.AuthorityLevel `json:"action_authority"`

	// CertRequired lists actions that demand a currently valid certification.
	CertRequired map[domain.Action]bool `json:"cert_required"`

	// ApprovalAuthority maps an overridable denial reason to the authority
	// level that denial demands. An override approver must strictly exceed
	// this level.
	ApprovalAuthority map[domain.ReasonCode]domain.AuthorityLevel `json:"approval_authority"`

	// OverrideWindowHours is how long an approved override stays consumable.
	OverrideWindowHours int `json:"override_window_hours"`

	// AutoFreezeReasons lists hard-halt denial reasons that freeze the
	// entity as a side effect of the denial.
	AutoFreezeReasons []domain.ReasonCode `json:"auto_freeze_reasons"`
}

// Default returns the reference rule table. Threshold values are a tunable
// starting point, not a contract.
func Default() Config {
	return Config{
		Weights: map[domain.EvidenceCategory]int{
			domain.CategoryBudget:      25,
			domain.CategoryAuthority:   20,
			domain.CategoryNeed:        20,
			domain.CategoryTimeline:    15,
			domain.CategoryCompetition: 10,
			domain.CategoryChampion:    10,
		},
		AdvanceThresholds: map[domain.Stage]float64{
			domain.StageProposal:    40,
			domain.StageNegotiation: 55,
			domain.StageContract:    70,
			domain.StageClosed:      85,
		},
		ActionThresholds: map[domain.Action]float64{
			domain.ActionApplyDiscount: 60,
		},
		ActionAuthority: map[domain.Action]domain.AuthorityLevel{
			domain.ActionAdvanceStage:  domain.AuthorityRep,
			domain.ActionFreeze:        domain.AuthorityManager,
			domain.ActionUnfreeze:      domain.AuthorityManager,
			domain.ActionApplyDiscount: domain.AuthorityManager,
			domain.ActionClose:         domain.AuthorityRep,
		},
		CertRequired: map[domain.Action]bool{
			domain.ActionAdvanceStage:  true,
			domain.ActionApplyDiscount: true,
		},
		ApprovalAuthority: map[domain.ReasonCode]domain.AuthorityLevel{
			domain.ReasonHealthRedEscalation:  domain.AuthorityManager,
			domain.ReasonCertificationInvalid: domain.AuthorityManager,
			domain.ReasonQualificationBelow:   domain.AuthorityManager,
		},
		OverrideWindowHours: 72,
		AutoFreezeReasons: []domain.ReasonCode{domain.ReasonHealthBlack},
	}
}

// Load returns the default config, overridden by the JSON file at path when
// path is non-empty. The result is validated; an invalid rule table is a
// startup failure, never an evaluation-time surprise.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("policy config: %w", err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("policy config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate enforces the structural invariants of the rule table.
func (c Config) Validate() error {
	sum := 0
	for _, cat := range domain.Categories() {
		w, ok := c.Weights[cat]
		if !ok {
			return fmt.Errorf("policy config: missing weight for category %q", cat)
		}
		if w < 0 {
			return fmt.Errorf("policy config: negative weight for category %q", cat)
		}
		sum += w
	}
	if len(c.Weights) != len(domain.Categories()) {
		return fmt.Errorf("policy config: unknown categories in weights")
	}
	if sum != 100 {
		return fmt.Errorf("policy config: category weights sum to %d, want 100", sum)
	}

	prev := 0.0
	for _, st := range domain.Stages() {
		th, ok := c.AdvanceThresholds[st]
		if !ok {
			continue
		}
		if th < 0 || th > 100 {
			return fmt.Errorf("policy config: advance threshold for %q out of range", st)
		}
		if th < prev {
			return fmt.Errorf("policy config: advance threshold for %q breaks monotonic stage order", st)
		}
		prev = th
	}
	for a, th := range c.ActionThresholds {
		if !a.Valid() {
			return fmt.Errorf("policy config: threshold for unknown action %q", a)
		}
		if th < 0 || th > 100 {
			return fmt.Errorf("policy config: threshold for action %q out of range", a)
		}
	}
	for a, lvl := range c.ActionAuthority {
		if !a.Valid() {
			return fmt.Errorf("policy config: authority for unknown action %q", a)
		}
		if !lvl.Valid() {
			return fmt.Errorf("policy config: invalid authority level for action %q", a)
		}
	}
	for reason, lvl := range c.ApprovalAuthority {
		if !lvl.Valid() {
			return fmt.Errorf("policy config: invalid approval authority for reason %q", reason)
		}
	}
	if c.OverrideWindowHours <= 0 {
		return fmt.Errorf("policy config: override window must be positive")
	}
	return nil
}

// Window returns the override consumption window as a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.OverrideWindowHours) * time.Hour
}

// RequiredApproval returns the authority level demanded by a denial reason
// for the given action. AUTHORITY_INSUFFICIENT tracks the action's own
// requirement; other overridable reasons come from the approval table.
func (c Config) RequiredApproval(reason domain.ReasonCode, action domain.Action) domain.AuthorityLevel {
	if reason == domain.ReasonAuthorityInsufficient {
		if lvl, ok := c.ActionAuthority[action]; ok {
			return lvl
		}
		return domain.AuthorityManager
	}
	if lvl, ok := c.ApprovalAuthority[reason]; ok {
		return lvl
	}
	return domain.AuthorityManager
}

// AutoFreeze reports whether a hard-halt denial with this reason freezes the
// entity.
func (c Config) AutoFreeze(reason domain.ReasonCode) bool {
	for _, r := range c.AutoFreezeReasons {
		if r == reason {
			return true
		}
	}
	return false
}
