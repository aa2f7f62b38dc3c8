package archive

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/reviewapps-dev/rdeploy/internal/deployerr"
)

// ProgressFunc receives the number of source bytes archived so far.
type ProgressFunc func(processed, total int64)

type Result struct {
	Bytes  int64  `json:"bytes"`  // size of the written archive
	Files  int    `json:"files"`  // regular files archived
	SHA256 string `json:"sha256"` // hex digest of the archive
}

// Compress writes srcDir as a gzip-compressed tarball at destPath. Entry
// names are relative to srcDir. When destPath lies inside srcDir it is left
// out of the archive.
func Compress(srcDir, destPath string, progress ProgressFunc) (*Result, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, deployerr.Newf(deployerr.KindCompress, "source directory %s does not exist", srcDir)
		}
		return nil, deployerr.Wrap(deployerr.KindCompress, err, "stat "+srcDir)
	}
	if !info.IsDir() {
		return nil, deployerr.Newf(deployerr.KindCompress, "source %s is not a directory", srcDir)
	}

	destDir := filepath.Dir(destPath)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, deployerr.Wrap(deployerr.KindCompress, err, "create archive directory "+destDir)
	}

	tmp, err := os.CreateTemp(destDir, ".rdeploy-*.tar.gz")
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindCompress, err, "create archive")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after the rename

	skip := map[string]bool{}
	for _, p := range []string{destPath, tmpName} {
		if abs, err := filepath.Abs(p); err == nil {
			skip[abs] = true
		}
	}

	total, err := sourceSize(srcDir, skip)
	if err != nil {
		tmp.Close()
		return nil, deployerr.Wrap(deployerr.KindCompress, err, "scan "+srcDir)
	}

	h := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(tmp, h)}
	gz, err := gzip.NewWriterLevel(counter, gzip.BestCompression)
	if err != nil {
		tmp.Close()
		return nil, deployerr.Wrap(deployerr.KindCompress, err, "gzip")
	}
	tw := tar.NewWriter(gz)

	var processed int64
	report := func(n int64) {
		processed += n
		if progress != nil {
			progress(processed, total)
		}
	}

	files, walkErr := writeTree(tw, srcDir, skip, report)
	if walkErr == nil {
		walkErr = tw.Close()
	}
	if walkErr == nil {
		walkErr = gz.Close()
	}
	if closeErr := tmp.Close(); walkErr == nil {
		walkErr = closeErr
	}
	if walkErr != nil {
		return nil, deployerr.Wrap(deployerr.KindCompress, walkErr, "write archive "+destPath)
	}

	if err := os.Rename(tmpName, destPath); err != nil {
		return nil, deployerr.Wrap(deployerr.KindCompress, err, "write archive "+destPath)
	}

	if progress != nil && processed == 0 {
		progress(0, total)
	}

	return &Result{
		Bytes:  counter.n,
		Files:  files,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func sourceSize(root string, skip map[string]bool) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || isSkipped(p, skip) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func writeTree(tw *tar.Writer, root string, skip map[string]bool, report func(int64)) (int, error) {
	files := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." || isSkipped(p, skip) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		if _, err := io.Copy(tw, &progressReader{r: f, report: report}); err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
		files++
		return nil
	})
	return files, err
}

func isSkipped(p string, skip map[string]bool) bool {
	abs, err := filepath.Abs(p)
	return err == nil && skip[abs]
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type progressReader struct {
	r      io.Reader
	report func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.report(int64(n))
	}
	return n, err
}
