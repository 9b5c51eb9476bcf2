package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExitModeDescriptor carries the mode tag plus whichever mode-specific
// parameters apply. Only the fields relevant to Mode are meaningful;
// this mirrors a tagged union via a flat struct with optional fields,
// the idiom the rest of this module uses for closed variants.
type ExitModeDescriptor struct {
	Mode ExitMode `json:"mode"`

	PartialSize  decimal.Decimal `json:"partialSize,omitempty"`
	PartialAtR   decimal.Decimal `json:"partialAtR,omitempty"`
	TrailFactor  decimal.Decimal `json:"trailFactor,omitempty"`
	PivotLookback int            `json:"pivotLookback,omitempty"`
	TimeLimitMinutes int         `json:"timeLimitMinutes,omitempty"`
	MaxBars      int             `json:"maxBars,omitempty"`
	SlopeWindow  int             `json:"slopeWindow,omitempty"`
	SlopeMin     float64         `json:"slopeMin,omitempty"`
}

// SignalMetadata is a snapshot of the context a candidate signal was
// generated from, carried through to the ledger for post-hoc analysis.
type SignalMetadata struct {
	AuctionState           AuctionState `json:"auctionState"`
	AuctionStateConfidence float64      `json:"auctionStateConfidence"`

	ORWidthNorm         float64 `json:"orWidthNorm"`
	BreakoutDelayMinutes float64 `json:"breakoutDelayMinutes"`

	VolumeQualityScore float64 `json:"volumeQualityScore"`
	NormalizedVol      float64 `json:"normalizedVol"`

	DriveEnergy float64 `json:"driveEnergy"`
	Rotations   int     `json:"rotations"`

	GapType GapType `json:"gapType"`

	PExtension *float64 `json:"pExtension,omitempty"`
}

// CandidateSignal is a prospective trade emitted by a playbook, not
// yet accepted by governance.
type CandidateSignal struct {
	PlaybookName string    `json:"playbookName"`
	Direction    Direction `json:"direction"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	TriggerPrice decimal.Decimal `json:"triggerPrice"`
	BufferUsed   decimal.Decimal `json:"bufferUsed"`

	InitialStop         decimal.Decimal  `json:"initialStop"`
	Phase1StopDistance  decimal.Decimal  `json:"phase1StopDistance"`
	StructuralAnchor    *decimal.Decimal `json:"structuralAnchor,omitempty"`

	ExitMode ExitModeDescriptor `json:"exitMode"`
	Metadata SignalMetadata     `json:"metadata"`

	Timestamp time.Time `json:"timestamp"`
	Priority  float64   `json:"priority"`
}
