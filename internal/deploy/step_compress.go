package deploy

import (
	"context"

	"github.com/dustin/go-humanize"

	"github.com/reviewapps-dev/rdeploy/internal/archive"
)

type compressStep struct{}

func (s *compressStep) Name() string { return "compress" }
func (s *compressStep) Stage() Stage { return StageCompress }

func (s *compressStep) Question(r *runState) (string, []string, bool) {
	return "Compress the build output?", []string{
		"source: " + r.req.DistDir,
		"archive: " + r.req.ArchivePath,
	}, true
}

func (s *compressStep) Run(ctx context.Context, r *runState, sc *StageContext) error {
	if err := r.hook(ctx, BeforeCompress, sc); err != nil {
		return err
	}

	res, err := archive.Compress(r.req.DistDir, r.req.ArchivePath, r.log.Progress("compress"))
	if err != nil {
		return err
	}
	sc.Archive = res
	r.summary.Archive = res
	r.log.Success("archive %s: %d files, %s, sha256 %s",
		r.req.ArchivePath, res.Files, humanize.IBytes(uint64(res.Bytes)), res.SHA256)

	return r.hook(ctx, AfterCompress, sc)
}
