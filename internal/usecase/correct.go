package usecase

import (
	"context"
	"fmt"

	"go.ngs.io/tec-interp/internal/domain"
)

// CorrectedTrack is an altimetry track with its interpolated TEC and the
// ionosphere-corrected sea level anomaly. Records whose TEC could not be
// estimated are removed from every array.
type CorrectedTrack struct {
	RunID     string       `json:"run_id"`
	Track     domain.Track `json:"-"`
	TEC       []float64    `json:"tec"`
	Variance  []float64    `json:"variance"`
	Corrected []float64    `json:"corrected_sla"`
	Removed   []int        `json:"removed_indices"`
}

// CorrectTrack interpolates TEC along the track and applies corr to its sea
// level anomalies.
func (it *Interpolator) CorrectTrack(ctx context.Context, tr domain.Track, corr domain.Correction) (*CorrectedTrack, *BatchResult, error) {
	if err := tr.Validate(); err != nil {
		return nil, nil, err
	}

	res, err := it.InterpolateBatch(ctx, tr.Points())
	if err != nil {
		return nil, nil, err
	}

	kept, err := tr.DeleteIndices(res.FailedIndices)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to drop failed records: %w", err)
	}
	corrected, err := corr.ApplyAll(kept.SLA, res.Values)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply correction: %w", err)
	}

	return &CorrectedTrack{
		RunID:     res.RunID,
		Track:     kept,
		TEC:       res.Values,
		Variance:  res.Variances,
		Corrected: corrected,
		Removed:   res.FailedIndices,
	}, res, nil
}
