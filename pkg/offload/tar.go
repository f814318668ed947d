package offload

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BuildTar archives the dataset directory into destPath without
// compression — PNG frames are already compressed, and a single tar
// stream transfers several times faster over SFTP than tens of
// thousands of small files. The archive root is the directory's base
// name so remote extraction recreates {repo_id}/... A non-nil skip
// excludes entries by their path relative to srcDir.
func BuildTar(srcDir, destPath string, skip func(rel string) bool) (int64, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return 0, fmt.Errorf("dataset dir: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("dataset path %s is not a directory", srcDir)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create tar %s: %w", destPath, err)
	}

	tw := tar.NewWriter(out)
	base := filepath.Base(srcDir)

	walkErr := filepath.Walk(srcDir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if skip != nil && rel != "." && skip(filepath.ToSlash(rel)) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		name := filepath.ToSlash(filepath.Join(base, rel))
		if rel == "." {
			name = base
		}

		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if fi.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("archive %s: %w", p, err)
		}
		return nil
	})

	if walkErr != nil {
		tw.Close()
		out.Close()
		os.Remove(destPath)
		return 0, fmt.Errorf("build tar: %w", walkErr)
	}
	if err := tw.Close(); err != nil {
		out.Close()
		os.Remove(destPath)
		return 0, err
	}
	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return 0, err
	}

	st, err := os.Stat(destPath)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}
