package policy

import "dealguard/internal/domain"

// Decision is the engine's verdict for one evaluation.
type Decision struct {
	Outcome domain.Outcome
	Reason  domain.ReasonCode
}

// Evaluate runs the fixed-precedence rule list against a signal snapshot.
// It is a pure function of its arguments: identical inputs always yield the
// identical decision, which makes it safe for unlimited parallel invocation.
//
// target is the stage being advanced into and is only consulted for
// advance_stage. First matching rule wins; ambiguity resolves to DENIED.
func Evaluate(cfg Config, action domain.Action, target domain.Stage, snap domain.Snapshot) Decision {
	if !action.Valid() {
		return Decision{Outcome: domain.OutcomeDenied, Reason: domain.ReasonUnclassified}
	}

	// 1. Hard halts.
	if snap.EntityClosed {
		return Decision{Outcome: domain.OutcomeDenied, Reason: domain.ReasonEntityClosed}
	}
	if snap.HealthBand == domain.BandBlack && action != domain.ActionUnfreeze {
		return Decision{Outcome: domain.OutcomeDenied, Reason: domain.ReasonHealthBlack}
	}
	if snap.FreezeState == domain.FreezeFrozen && action != domain.ActionUnfreeze {
		return Decision{Outcome: domain.OutcomeDenied, Reason: domain.ReasonEntityFrozen}
	}
	if action == domain.ActionUnfreeze && snap.FreezeState != domain.FreezeFrozen {
		return Decision{Outcome: domain.OutcomeDenied, Reason: domain.ReasonEntityNotFrozen}
	}

	// 2. Escalation-required conditions.
	if snap.HealthBand == domain.BandRed && action == domain.ActionAdvanceStage {
		return Decision{Outcome: domain.OutcomeRequiresOverride, Reason: domain.ReasonHealthRedEscalation}
	}

	// 3. Authority gates.
	if required, ok := cfg.ActionAuthority[action]; ok && snap.ActorAuthority < required {
		return Decision{Outcome: domain.OutcomeRequiresOverride, Reason: domain.ReasonAuthorityInsufficient}
	}
	if cfg.CertRequired[action] && !snap.CertificationValid {
		return Decision{Outcome: domain.OutcomeRequiresOverride, Reason: domain.ReasonCertificationInvalid}
	}

	// 4. Soft qualification gates.
	if snap.QualificationScore < thresholdFor(cfg, action, target) {
		return Decision{Outcome: domain.OutcomeRequiresOverride, Reason: domain.ReasonQualificationBelow}
	}

	// 5. Default.
	return Decision{Outcome: domain.OutcomeAllowed, Reason: domain.ReasonOK}
}

func thresholdFor(cfg Config, action domain.Action, target domain.Stage) float64 {
	if action == domain.ActionAdvanceStage {
		return cfg.AdvanceThresholds[target]
	}
	return cfg.ActionThresholds[action]
}
