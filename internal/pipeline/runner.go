package pipeline

import (
	"context"
	"time"
)

// RunStages executes stages in order, recording timing and stopping on the
// first failure. Every failure comes back as a *StageError.
func RunStages(ctx context.Context, bs *BuildState, stages []StageDef, obs BuildObserver) error {
	for _, st := range stages {
		select {
		case <-ctx.Done():
			se := NewCanceledStageError(st.Name, ctx.Err())
			bs.Errorf("%s", se.Error())
			obs.OnStageComplete(st.Name, 0, StageResultCanceled)
			return se
		default:
		}

		obs.OnStageStart(st.Name)
		bs.Logf("stage %s started", st.Name)

		t0 := time.Now()
		err := st.Fn(ctx, bs)
		dur := time.Since(t0)

		if err != nil {
			se, ok := AsStageError(err)
			if !ok {
				se = NewFatalStageError(st.Name, err)
				if ctx.Err() != nil {
					se = NewCanceledStageError(st.Name, err)
				}
			}
			result := StageResultFatal
			if se.Kind == StageErrorCanceled {
				result = StageResultCanceled
			}
			bs.Errorf("%s", se.Error())
			obs.OnStageComplete(st.Name, dur, result)
			return se
		}

		bs.Logf("stage %s completed in %s", st.Name, dur.Round(time.Millisecond))
		obs.OnStageComplete(st.Name, dur, StageResultSuccess)
	}
	return nil
}
