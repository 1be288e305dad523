package domain

// PointState is the processing state of one query point in a batch.
type PointState int

const (
	// StatePending means the point has not been picked up yet.
	StatePending PointState = iota
	// StateResolvingEpochs means the bracketing maps are being located.
	StateResolvingEpochs
	// StateNeighborhoodSelected means a neighborhood has been sampled.
	StateNeighborhoodSelected
	// StateEstimating means the spatial estimator is running.
	StateEstimating
	// StateDone means an estimate was produced.
	StateDone
	// StateFailed means the estimator could not produce an estimate.
	StateFailed
)

func (s PointState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolvingEpochs:
		return "resolving_epochs"
	case StateNeighborhoodSelected:
		return "neighborhood_selected"
	case StateEstimating:
		return "estimating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
