package deploy

import "context"

// step is one pipeline-wide stage. Host work happens inside the hosts step.
type step interface {
	Name() string
	Stage() Stage
	Run(ctx context.Context, r *runState, sc *StageContext) error
}

// gated is implemented by steps that ask before running in interactive
// mode. ok=false skips the question.
type gated interface {
	Question(r *runState) (title string, details []string, ok bool)
}
