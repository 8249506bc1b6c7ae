package domain

import "time"

// Result is a single inspection result delivered for the current seam.
type Result struct {
	Type      ResultType `json:"type"`
	NioType   ResultType `json:"nioType"`
	Nio       bool       `json:"nio"`
	Timestamp time.Time  `json:"timestamp"`
	Position  int64      `json:"position"`
	Values    []float64  `json:"values,omitempty"`
	Ranks     []int      `json:"ranks,omitempty"`
}

// IsNio reports whether the result marks the seam as not in order.
func (r Result) IsNio() bool {
	return r.Nio
}
