package convert

import "time"

// AttemptResult is the typed result of one engine call.
type AttemptResult interface {
	attempt()
}

// Succeeded means the engine produced an output satisfying the post-condition.
type Succeeded struct{}

// EngineFailure is any non-auth failure. Retryable failures move the chain to
// the next strategy; the others (fatal environment errors) stop it.
type EngineFailure struct {
	Err       error
	Retryable bool
}

// AuthObstacle stops the chain unconditionally.
type AuthObstacle struct {
	Err error
}

func (Succeeded) attempt()     {}
func (EngineFailure) attempt() {}
func (AuthObstacle) attempt()  {}

// ChainResult is the verdict of walking a strategy list.
type ChainResult struct {
	Status   Status
	Method   Strategy // strategy that succeeded, or the last one tried
	Attempts []Attempt
	LastErr  error
	Fatal    bool
}

// WalkChain tries each strategy in order through try and stops at the first
// success, auth obstacle or non-retryable failure. It holds no state of its
// own: the verdict depends only on the sequence of results try returns.
func WalkChain(strategies []Strategy, try func(Strategy) (AttemptResult, time.Duration)) ChainResult {
	var res ChainResult
	if len(strategies) == 0 {
		res.Status = StatusError
		res.LastErr = ErrNoStrategy
		return res
	}
	for _, s := range strategies {
		r, d := try(s)
		res.Method = s
		a := Attempt{Strategy: s, Duration: d}
		switch r := r.(type) {
		case Succeeded:
			res.Attempts = append(res.Attempts, a)
			res.Status = StatusSuccess
			res.LastErr = nil
			return res
		case AuthObstacle:
			a.Error, a.Auth = errString(r.Err), true
			res.Attempts = append(res.Attempts, a)
			res.Status = StatusSkippedPassword
			res.LastErr = r.Err
			return res
		case EngineFailure:
			a.Error = errString(r.Err)
			res.Attempts = append(res.Attempts, a)
			res.LastErr = r.Err
			if !r.Retryable {
				res.Status = StatusError
				res.Fatal = true
				return res
			}
		}
	}
	res.Status = StatusError
	return res
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
