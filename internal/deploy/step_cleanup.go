package deploy

import (
	"context"
	"os"

	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
)

// cleanupStep removes the local archive. Nothing here fails the run.
type cleanupStep struct{}

func (s *cleanupStep) Name() string { return "cleanup" }
func (s *cleanupStep) Stage() Stage { return StageCleanup }

func (s *cleanupStep) Question(r *runState) (string, []string, bool) {
	if !r.req.RemoveArchive {
		return "", nil, false
	}
	return "Remove the local archive?", []string{r.req.ArchivePath}, true
}

func (s *cleanupStep) Run(ctx context.Context, r *runState, sc *StageContext) error {
	if !r.req.RemoveArchive {
		r.log.Log("keeping %s", r.req.ArchivePath)
		return nil
	}

	if err := r.bus.hook(ctx, BeforeCleanup, sc); err != nil {
		r.log.Warn("%v", err)
	}

	if err := os.Remove(r.req.ArchivePath); err != nil && !os.IsNotExist(err) {
		r.soft(ctx, deployerr.Wrap(deployerr.KindCleanup, err, "remove "+r.req.ArchivePath), sc, r.log)
	} else {
		r.log.Success("removed %s", r.req.ArchivePath)
	}

	if err := r.bus.hook(ctx, AfterCleanup, sc); err != nil {
		r.log.Warn("%v", err)
	}
	return nil
}
