package models

import "time"

// WheelSegment is one selectable slice of the prize wheel. Weight zero means
// the segment is displayed but never selected.
type WheelSegment struct {
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
	Prize  int64   `json:"prize"`
}

// WheelConfig is the live wheel configuration pulled from the config store.
type WheelConfig struct {
	ID                    string         `json:"id"`
	Segments              []WheelSegment `json:"segments"`
	SpinDuration          time.Duration  `json:"spin_duration"`
	WinnerDisplayDuration time.Duration  `json:"winner_display_duration"`
	InfoScreenEnabled     bool           `json:"info_screen_enabled"`
	InfoScreenDuration    time.Duration  `json:"info_screen_duration"`
}

// OptionLabels returns the segment labels in display order.
func (c WheelConfig) OptionLabels() []string {
	labels := make([]string, len(c.Segments))
	for i, s := range c.Segments {
		labels[i] = s.Label
	}
	return labels
}

// BallDropConfig is the live ball-drop configuration.
type BallDropConfig struct {
	ID              string        `json:"id"`
	SlotMultipliers []float64     `json:"slot_multipliers"`
	DropDuration    time.Duration `json:"drop_duration"`
}

// SlotCount returns the number of landing slots.
func (c BallDropConfig) SlotCount() int { return len(c.SlotMultipliers) }

// TurnGameConfig is the live turn-based game configuration.
type TurnGameConfig struct {
	ID                   string        `json:"id"`
	MoveOptions          []string      `json:"move_options"`
	PresentationDuration time.Duration `json:"presentation_duration"`
}
