package usecase

import (
	"encoding/json"
	"fmt"

	"go.ngs.io/tec-interp/internal/adapter/store/results"
)

// Run kinds recorded in the results store.
const (
	KindInterpolate = "interpolate"
	KindCorrect     = "correct"
)

// Record converts the batch into a storable run.
func (r *BatchResult) Record(kind string) (results.Run, error) {
	p := r.Params
	p.Seed = r.Seed
	params, err := json.Marshal(p)
	if err != nil {
		return results.Run{}, fmt.Errorf("failed to encode parameters: %w", err)
	}
	return results.Run{
		ID:            r.RunID,
		CreatedAt:     r.CreatedAt,
		Kind:          kind,
		Params:        params,
		Total:         r.Total,
		Values:        r.Values,
		Variances:     r.Variances,
		FailedIndices: r.FailedIndices,
		ElapsedMs:     r.Elapsed.Milliseconds(),
	}, nil
}
