package deploy

import (
	"context"

	"github.com/reviewapps-dev/rdeploy/internal/build"
	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
)

type buildStep struct{}

func (s *buildStep) Name() string { return "build" }
func (s *buildStep) Stage() Stage { return StageBuild }

func (s *buildStep) Question(r *runState) (string, []string, bool) {
	if r.req.SkipBuild {
		return "", nil, false
	}
	return "Build the project?", []string{
		"command: " + r.req.BuildCommand,
		"in: " + r.req.ProjectDir,
	}, true
}

func (s *buildStep) Run(ctx context.Context, r *runState, sc *StageContext) error {
	if r.req.SkipBuild {
		r.log.Log("build skipped")
		return nil
	}
	if err := r.hook(ctx, BeforeBuild, sc); err != nil {
		return err
	}

	r.log.Log("running %q", r.req.BuildCommand)
	out := r.log.Writer()
	err := r.build(ctx, build.Options{
		Command: r.req.BuildCommand,
		Dir:     r.req.ProjectDir,
		Stdout:  out,
		Stderr:  out,
	})
	out.Close()
	if err != nil {
		return deployerr.Wrap(deployerr.KindBuild, err, r.req.BuildCommand)
	}
	r.log.Success("build finished")

	return r.hook(ctx, AfterBuild, sc)
}
