package job

// Priority is a dequeue weighting hint. Higher priorities are preferred
// within a queue but implementations bound starvation of lower tiers;
// strict FIFO holds only within a tier.
type Priority int

const (
	PriorityLow    Priority = 10
	PriorityNormal Priority = 50
	PriorityHigh   Priority = 100
)

// String returns the tier name, or "custom" for values outside the
// defined tiers.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "custom"
	}
}
