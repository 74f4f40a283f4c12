package domain

import "time"

// Core domain models for deal enforcement. Everything that mutates a deal's
// stage or freeze state goes through the gateway service; these types carry
// no behavior beyond enum ordering and band classification.

// Stage is the ordered deal lifecycle. Advancement is strictly one step at a
// time and only through an authorized action.
type Stage string

const (
	StageQualification Stage = "qualification"
	StageProposal      Stage = "proposal"
	StageNegotiation   Stage = "negotiation"
	StageContract      Stage = "contract"
	StageClosed        Stage = "closed"
)

var stageOrder = []Stage{StageQualification, StageProposal, StageNegotiation, StageContract, StageClosed}

// Stages returns the lifecycle in order.
func Stages() []Stage { return append([]Stage(nil), stageOrder...) }

// Rank returns the position of s in the lifecycle, or -1 for an unknown stage.
func (s Stage) Rank() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool { return s.Rank() >= 0 }

// Next returns the following stage and false when s is terminal or unknown.
func (s Stage) Next() (Stage, bool) {
	r := s.Rank()
	if r < 0 || r == len(stageOrder)-1 {
		return s, false
	}
	return stageOrder[r+1], true
}

type FreezeState string

const (
	FreezeOpen   FreezeState = "OPEN"
	FreezeFrozen FreezeState = "FROZEN"
)

// Action enumerates the state-changing operations the gateway arbitrates.
type Action string

const (
	ActionAdvanceStage  Action = "advance_stage"
	ActionFreeze        Action = "freeze"
	ActionUnfreeze      Action = "unfreeze"
	ActionApplyDiscount Action = "apply_discount"
	ActionClose         Action = "close"
)

func (a Action) Valid() bool {
	switch a {
	case ActionAdvanceStage, ActionFreeze, ActionUnfreeze, ActionApplyDiscount, ActionClose:
		return true
	}
	return false
}

// EvidenceStatus is the ordered confidence scale for a qualification
// evidence item.
type EvidenceStatus string

const (
	EvidenceMissing   EvidenceStatus = "missing"
	EvidenceClaimed   EvidenceStatus = "claimed"
	EvidenceEvidenced EvidenceStatus = "evidenced"
	EvidenceConfirmed EvidenceStatus = "confirmed"
)

func (s EvidenceStatus) Valid() bool {
	switch s {
	case EvidenceMissing, EvidenceClaimed, EvidenceEvidenced, EvidenceConfirmed:
		return true
	}
	return false
}

// Multiplier returns the confidence factor applied to the category weight
// when computing the qualification score.
func (s EvidenceStatus) Multiplier() float64 {
	switch s {
	case EvidenceClaimed:
		return 0.5
	case EvidenceEvidenced:
		return 0.75
	case EvidenceConfirmed:
		return 1.0
	default:
		return 0
	}
}

// EvidenceCategory is the closed, weighted qualification category set.
type EvidenceCategory string

const (
	CategoryBudget      EvidenceCategory = "budget"
	CategoryAuthority   EvidenceCategory = "authority"
	CategoryNeed        EvidenceCategory = "need"
	CategoryTimeline    EvidenceCategory = "timeline"
	CategoryCompetition EvidenceCategory = "competition"
	CategoryChampion    EvidenceCategory = "champion"
)

// Categories returns the closed category set in a stable order.
func Categories() []EvidenceCategory {
	return []EvidenceCategory{
		CategoryBudget, CategoryAuthority, CategoryNeed,
		CategoryTimeline, CategoryCompetition, CategoryChampion,
	}
}

func (c EvidenceCategory) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// HealthBand is the coarse classification of an account-health total.
type HealthBand string

const (
	BandGreen  HealthBand = "GREEN"
	BandYellow HealthBand = "YELLOW"
	BandRed    HealthBand = "RED"
	BandBlack  HealthBand = "BLACK"
)

// BandFor classifies a 0-100 health total.
func BandFor(total int) HealthBand {
	switch {
	case total >= 75:
		return BandGreen
	case total >= 50:
		return BandYellow
	case total >= 25:
		return BandRed
	default:
		return BandBlack
	}
}

// AuthorityLevel is the ordered actor authority scale. Higher outranks lower.
type AuthorityLevel int

const (
	AuthorityRep      AuthorityLevel = 1
	AuthorityManager  AuthorityLevel = 2
	AuthorityDirector AuthorityLevel = 3
	AuthorityVP       AuthorityLevel = 4
)

func (l AuthorityLevel) Valid() bool { return l >= AuthorityRep && l <= AuthorityVP }

// Outcome is the policy decision result.
type Outcome string

const (
	OutcomeAllowed          Outcome = "ALLOWED"
	OutcomeDenied           Outcome = "DENIED"
	OutcomeRequiresOverride Outcome = "REQUIRES_OVERRIDE"
)

// ReasonCode is the closed explanation set attached to every decision.
type ReasonCode string

const (
	ReasonOK                    ReasonCode = "OK"
	ReasonHealthBlack           ReasonCode = "HEALTH_BLACK"
	ReasonEntityFrozen          ReasonCode = "ENTITY_FROZEN"
	ReasonEntityNotFrozen       ReasonCode = "ENTITY_NOT_FROZEN"
	ReasonEntityClosed          ReasonCode = "ENTITY_CLOSED"
	ReasonHealthRedEscalation   ReasonCode = "HEALTH_RED_ESCALATION"
	ReasonAuthorityInsufficient ReasonCode = "AUTHORITY_INSUFFICIENT"
	ReasonCertificationInvalid  ReasonCode = "CERTIFICATION_INVALID"
	ReasonQualificationBelow    ReasonCode = "QUALIFICATION_BELOW_THRESHOLD"
	ReasonOverrideInvalid       ReasonCode = "OVERRIDE_INVALID"
	ReasonUnclassified          ReasonCode = "UNCLASSIFIED"
	ReasonManualFreeze          ReasonCode = "MANUAL_FREEZE"
)

// TokenState is the override token state machine:
// REQUESTED -> {APPROVED, DENIED}; APPROVED -> {CONSUMED, EXPIRED}.
type TokenState string

const (
	TokenRequested TokenState = "REQUESTED"
	TokenApproved  TokenState = "APPROVED"
	TokenDenied    TokenState = "DENIED"
	TokenConsumed  TokenState = "CONSUMED"
	TokenExpired   TokenState = "EXPIRED"
)

// CanTransition reports whether the token state machine permits from -> to.
func CanTransition(from, to TokenState) bool {
	switch from {
	case TokenRequested:
		return to == TokenApproved || to == TokenDenied
	case TokenApproved:
		return to == TokenConsumed || to == TokenExpired
	default:
		return false
	}
}

// Entity is the unit under policy control: a sales deal.
type Entity struct {
	ID           string
	Name         string
	OwnerID      string
	Stage        Stage
	FreezeState  FreezeState
	FreezeReason ReasonCode
	ClosedAt     *time.Time
	// Version guards the compare-and-swap update path; bumped on every
	// gateway-applied mutation.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e Entity) Closed() bool { return e.ClosedAt != nil }

// EvidenceItem is one categorized piece of qualification evidence. Items are
// superseded in place, never deleted.
type EvidenceItem struct {
	EntityID      string
	Category      EvidenceCategory
	Status        EvidenceStatus
	Justification string
	UpdatedBy     string
	UpdatedAt     time.Time
}

// HealthRecord is an immutable point-in-time account-health snapshot. A new
// assessment appends a new record; existing records are never edited.
type HealthRecord struct {
	ID         string
	EntityID   string
	Total      int
	Band       HealthBand
	Components map[string]int
	Blockers   []string
	CreatedAt  time.Time
}

// Actor is the verified acting identity supplied by the surrounding CRM.
type Actor struct {
	ID                 string
	Name               string
	Authority          AuthorityLevel
	CertificationUntil time.Time
}

// CertificationValid reports whether the actor's certification is current.
// Expired certification is equivalent to no certification.
func (a Actor) CertificationValid(now time.Time) bool {
	return !a.CertificationUntil.IsZero() && a.CertificationUntil.After(now)
}

// Snapshot is the signal set a single policy evaluation runs against.
type Snapshot struct {
	EntityID           string         `json:"entity_id"`
	QualificationScore float64        `json:"qualification_score"`
	HealthBand         HealthBand     `json:"health_band"`
	HealthBlockers     []string       `json:"health_blockers,omitempty"`
	ActorAuthority     AuthorityLevel `json:"actor_authority"`
	CertificationValid bool           `json:"certification_valid"`
	FreezeState        FreezeState    `json:"freeze_state"`
	FreezeReason       ReasonCode     `json:"freeze_reason,omitempty"`
	EntityClosed       bool           `json:"entity_closed"`
	Stage              Stage          `json:"stage"`
	TakenAt            time.Time      `json:"taken_at"`
}

// OverrideToken is a time-bounded, single-use exception to a denial.
type OverrideToken struct {
	ID            string
	EntityID      string
	ActorID       string
	Action        Action
	Justification string
	State         TokenState
	// DenialReason is the REQUIRES_OVERRIDE reason the token was requested
	// against; RequiredAuthority is the level that denial demands, which an
	// approver must strictly exceed.
	DenialReason      ReasonCode
	RequiredAuthority AuthorityLevel
	ApproverID        string
	RequestedAt       time.Time
	ApprovedAt        *time.Time
	ExpiresAt         *time.Time
	ConsumedAt        *time.Time
}

// EffectiveState applies lazy expiry: an APPROVED token past its expiry reads
// as EXPIRED regardless of the stored state.
func (t OverrideToken) EffectiveState(now time.Time) TokenState {
	if t.State == TokenApproved && t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
		return TokenExpired
	}
	return t.State
}

// Decision is the append-only ledger entry for one enforcement decision.
// The shape is an additive-only contract; fields are never repurposed or
// removed once written.
type Decision struct {
	ID              string     `json:"id"`
	EntityID        string     `json:"entity_id"`
	ActorID         string     `json:"actor_id"`
	Action          Action     `json:"action"`
	Outcome         Outcome    `json:"outcome"`
	ReasonCode      ReasonCode `json:"reason_code"`
	Snapshot        Snapshot   `json:"snapshot"`
	OverrideTokenID string     `json:"override_token_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllowed }
