package pkgman

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	lzip "github.com/sorairolake/lzip-go"
	"github.com/ulikunitz/xz"
)

// Unpack extracts a fetched package archive into destDir. The format is
// chosen by the file name: zip, tar.gz/tgz, tar.xz, tar.bz2, tar.lz and
// tar.zst are supported.
func Unpack(archivePath, destDir string) error {
	name := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return unpackZip(archivePath, destDir)
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		return unpackTarWith(archivePath, destDir, func(r io.Reader) (io.Reader, error) {
			gz, err := gzip.NewReader(r)
			if err != nil {
				return nil, err
			}
			return gz, nil
		})
	case strings.HasSuffix(name, ".tar.xz"):
		return unpackTarWith(archivePath, destDir, func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r)
		})
	case strings.HasSuffix(name, ".tar.bz2"):
		return unpackTarWith(archivePath, destDir, func(r io.Reader) (io.Reader, error) {
			return bzip2.NewReader(r), nil
		})
	case strings.HasSuffix(name, ".tar.lz"):
		return unpackTarWith(archivePath, destDir, func(r io.Reader) (io.Reader, error) {
			return lzip.NewReader(r)
		})
	case strings.HasSuffix(name, ".tar.zst"):
		return unpackTarWith(archivePath, destDir, func(r io.Reader) (io.Reader, error) {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return zr.IOReadCloser(), nil
		})
	default:
		return fmt.Errorf("unsupported archive format: %s", archivePath)
	}
}

// isWithin reports whether target stays inside base. Extraction rejects
// entries that would escape the destination.
func isWithin(target, base string) bool {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	return absTarget == absBase || strings.HasPrefix(absTarget, absBase+string(os.PathSeparator))
}

func unpackZip(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		target := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if !isWithin(target, destDir) {
			return fmt.Errorf("archive entry escapes destination: %s", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(target, rc, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func unpackTarWith(archivePath, destDir string, wrap func(io.Reader) (io.Reader, error)) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	r, err := wrap(f)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}
		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !isWithin(target, destDir) {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) ||
				!isWithin(filepath.Join(filepath.Dir(target), hdr.Linkname), destDir) {
				return fmt.Errorf("symlink escapes destination: %s -> %s", hdr.Name, hdr.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

func writeFile(target string, src io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
