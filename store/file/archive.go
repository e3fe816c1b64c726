package file

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// ArchiveMonth compacts one device-month directory into
// logs/<device>/<month>.tar.gz and removes the source directory. The archive
// is written atomically (temp + rename) so a crash mid-archive leaves the
// source records intact for the retry.
//
// A missing month directory is not an error: the retry path after a partial
// monthly rollover calls this again for already-archived devices.
func (s *Store) ArchiveMonth(device, month string) error {
	dir := s.MonthDir(device, month)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("store: month dir already archived", "device", device, "month", month)
			return nil
		}
		return fmt.Errorf("store: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store: %s is not a directory", dir)
	}

	archivePath := dir + ".tar.gz"
	tmpPath := archivePath + ".tmp"

	if err := writeTarGz(tmpPath, dir, month); err != nil {
		_ = os.Remove(tmpPath)
		return &PersistError{Path: archivePath, Err: err}
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		_ = os.Remove(tmpPath)
		return &PersistError{Path: archivePath, Err: err}
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("store: remove archived dir %s: %w", dir, err)
	}

	s.logger.Info("store: month archived", "device", device, "month", month, "archive", archivePath)
	return nil
}

// writeTarGz tars every regular file under dir into a gzip'd archive, with
// entry names rooted at base (the month), matching `tar -C logs/<device> month`.
func writeTarGz(dest, dir, base string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(base, rel))
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Sync()
}
