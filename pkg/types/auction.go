package types

// AuctionMetrics is computed once per session, after the primary OR
// finalizes, from every bar seen since session start.
type AuctionMetrics struct {
	DriveEnergy float64 `json:"driveEnergy"`
	Rotations   int     `json:"rotations"`

	VolumeZ     float64 `json:"volumeZ"`
	VolumeRatio float64 `json:"volumeRatio"`

	GapType      GapType `json:"gapType"`
	GapSizeNorm  float64 `json:"gapSizeNorm"`
	OpenVsPriorMid float64 `json:"openVsPriorMid"`

	OvernightRangePct      float64 `json:"overnightRangePct"`
	OvernightInventoryBias float64 `json:"overnightInventoryBias"`

	AvgBodyPct    float64 `json:"avgBodyPct"`
	MaxWickRatio  float64 `json:"maxWickRatio"`
}

// StateClassification is the output of the auction-state classifier:
// the selected state, its confidence, the full score vector, and a
// human-readable reason.
type StateClassification struct {
	State      AuctionState           `json:"state"`
	Confidence float64                `json:"confidence"`
	Scores     map[AuctionState]float64 `json:"scores"`
	Reason     string                 `json:"reason"`
}
