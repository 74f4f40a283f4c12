package policy

import (
	"testing"

	"dealguard/internal/domain"
)

func baseSnapshot() domain.Snapshot {
	return domain.Snapshot{
		EntityID:           "d1",
		QualificationScore: 95,
		HealthBand:         domain.BandGreen,
		ActorAuthority:     domain.AuthorityManager,
		CertificationValid: true,
		FreezeState:        domain.FreezeOpen,
		Stage:              domain.StageQualification,
	}
}

func TestEvaluate(t *testing.T) {
	cfg := Default()

	cases := []struct {
		name    string
		action  domain.Action
		target  domain.Stage
		mutate  func(*domain.Snapshot)
		outcome domain.Outcome
		reason  domain.ReasonCode
	}{
		{
			name:    "advance_allowed",
			action:  domain.ActionAdvanceStage,
			target:  domain.StageProposal,
			mutate:  func(s *domain.Snapshot) {},
			outcome: domain.OutcomeAllowed,
			reason:  domain.ReasonOK,
		},
		{
			name:   "closed_entity_denies_everything",
			action: domain.ActionFreeze,
			mutate: func(s *domain.Snapshot) {
				s.EntityClosed = true
			},
			outcome: domain.OutcomeDenied,
			reason:  domain.ReasonEntityClosed,
		},
		{
			name:   "closed_wins_over_black",
			action: domain.ActionAdvanceStage,
			target: domain.StageProposal,
			mutate: func(s *domain.Snapshot) {
				s.EntityClosed = true
				s.HealthBand = domain.BandBlack
			},
			outcome: domain.OutcomeDenied,
			reason:  domain.ReasonEntityClosed,
		},
		{
			name:   "black_halts_advance",
			action: domain.ActionAdvanceStage,
			target: domain.StageProposal,
			mutate: func(s *domain.Snapshot) {
				s.HealthBand = domain.BandBlack
			},
			outcome: domain.OutcomeDenied,
			reason:  domain.ReasonHealthBlack,
		},
		{
			name:   "black_wins_over_frozen",
			action: domain.ActionAdvanceStage,
			target: domain.StageProposal,
			mutate: func(s *domain.Snapshot) {
				s.HealthBand = domain.BandBlack
				s.FreezeState = domain.FreezeFrozen
			},
			outcome: domain.OutcomeDenied,
			reason:  domain.ReasonHealthBlack,
		},
		{
			name:   "unfreeze_escapes_black",
			action: domain.ActionUnfreeze,
			mutate: func(s *domain.Snapshot) {
				s.HealthBand = domain.BandBlack
				s.FreezeState = domain.FreezeFrozen
			},
			outcome: domain.OutcomeAllowed,
			reason:  domain.ReasonOK,
		},
		{
			name:   "frozen_blocks_advance",
			action: domain.ActionAdvanceStage,
			target: domain.StageProposal,
			mutate: func(s *domain.Snapshot) {
				s.FreezeState = domain.FreezeFrozen
			},
			outcome: domain.OutcomeDenied,
			reason:  domain.ReasonEntityFrozen,
		},
		{
			name:    "unfreeze_open_entity",
			action:  domain.ActionUnfreeze,
			mutate:  func(s *domain.Snapshot) {},
			outcome: domain.OutcomeDenied,
			reason:  domain.ReasonEntityNotFrozen,
		},
		{
			name:   "red_escalates_advance",
			action: domain.ActionAdvanceStage,
			target: domain.StageProposal,
			mutate: func(s *domain.Snapshot) {
				s.HealthBand = domain.BandRed
			},
			outcome: domain.OutcomeRequiresOverride,
			reason:  domain.ReasonHealthRedEscalation,
		},
		{
			name:   "red_does_not_block_freeze",
			action: domain.ActionFreeze,
			mutate: func(s *domain.Snapshot) {
				s.HealthBand = domain.BandRed
			},
			outcome: domain.OutcomeAllowed,
			reason:  domain.ReasonOK,
		},
		{
			name:   "rep_cannot_freeze",
			action: domain.ActionFreeze,
			mutate: func(s *domain.Snapshot) {
				s.ActorAuthority = domain.AuthorityRep
			},
			outcome: domain.OutcomeRequiresOverride,
			reason:  domain.ReasonAuthorityInsufficient,
		},
		{
			name:   "lapsed_cert_blocks_advance",
			action: domain.ActionAdvanceStage,
			target: domain.StageProposal,
			mutate: func(s *domain.Snapshot) {
				s.CertificationValid = false
			},
			outcome: domain.OutcomeRequiresOverride,
			reason:  domain.ReasonCertificationInvalid,
		},
		{
			name:   "score_below_advance_threshold",
			action: domain.ActionAdvanceStage,
			target: domain.StageContract,
			mutate: func(s *domain.Snapshot) {
				s.QualificationScore = 69
			},
			outcome: domain.OutcomeRequiresOverride,
			reason:  domain.ReasonQualificationBelow,
		},
		{
			name:   "score_below_discount_threshold",
			action: domain.ActionApplyDiscount,
			mutate: func(s *domain.Snapshot) {
				s.QualificationScore = 59
			},
			outcome: domain.OutcomeRequiresOverride,
			reason:  domain.ReasonQualificationBelow,
		},
		{
			name:    "unknown_action_fails_closed",
			action:  domain.Action("escalate"),
			mutate:  func(s *domain.Snapshot) {},
			outcome: domain.OutcomeDenied,
			reason:  domain.ReasonUnclassified,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := baseSnapshot()
			tc.mutate(&snap)
			got := Evaluate(cfg, tc.action, tc.target, snap)
			if got.Outcome != tc.outcome || got.Reason != tc.reason {
				t.Fatalf("Evaluate(%s) = %s/%s, want %s/%s", tc.action, got.Outcome, got.Reason, tc.outcome, tc.reason)
			}
		})
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	cfg := Default()
	snap := baseSnapshot()
	snap.HealthBand = domain.BandRed
	first := Evaluate(cfg, domain.ActionAdvanceStage, domain.StageProposal, snap)
	for i := 0; i < 100; i++ {
		got := Evaluate(cfg, domain.ActionAdvanceStage, domain.StageProposal, snap)
		if got != first {
			t.Fatalf("run %d: got %+v, want %+v", i, got, first)
		}
	}
}
