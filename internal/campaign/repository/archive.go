package repository

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"rvcampaign/internal/common/storage"
	appErr "rvcampaign/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

// ArchiveEntry names a local file or directory and its path inside the
// bundle.
type ArchiveEntry struct {
	Source string
	Name   string
}

// Archive stores tar.zst bundles of campaign outputs in object storage.
type Archive struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
}

// NewArchive creates an archive writing below prefix in bucket.
func NewArchive(storageClient storage.ObjectStorage, bucket, prefix string) *Archive {
	return &Archive{storage: storageClient, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key of a campaign bundle.
func (a *Archive) Key(id string) string {
	if a.prefix == "" {
		return id + ".tar.zst"
	}
	return path.Join(a.prefix, id+".tar.zst")
}

// Upload streams the entries as one bundle and returns its object key.
// Missing sources are skipped.
func (a *Archive) Upload(ctx context.Context, id string, entries []ArchiveEntry) (string, error) {
	if id == "" {
		return "", appErr.ValidationError("id", "required")
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeBundle(pw, entries))
	}()

	key := a.Key(id)
	if err := a.storage.PutObject(ctx, a.bucket, key, pr, -1, "application/zstd"); err != nil {
		_ = pr.CloseWithError(err)
		return "", appErr.Wrapf(err, appErr.ArchiveFailed, "upload %s failed", key)
	}
	return key, nil
}

// Download fetches a bundle and extracts it into dstDir.
func (a *Archive) Download(ctx context.Context, key, dstDir string) error {
	reader, err := a.storage.GetObject(ctx, a.bucket, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "download %s failed", key)
	}
	defer reader.Close()
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return appErr.Wrapf(err, appErr.ArchiveFailed, "create %s failed", dstDir)
	}
	return extractBundle(reader, dstDir)
}

func writeBundle(w io.Writer, entries []ArchiveEntry) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)
	for _, e := range entries {
		if err := addTree(tw, e.Source, e.Name); err != nil {
			_ = tw.Close()
			_ = zw.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func addTree(tw *tar.Writer, src, name string) error {
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		entryName := path.Join(name, filepath.ToSlash(rel))
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = entryName
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

func extractBundle(r io.Reader, dstDir string) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return appErr.Wrapf(err, appErr.ArchiveFailed, "create zstd reader failed")
	}
	defer zr.Close()

	root := filepath.Clean(dstDir) + string(filepath.Separator)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.ArchiveFailed, "read tar entry failed")
		}
		cleanName := filepath.Clean(hdr.Name)
		if cleanName == "." {
			continue
		}
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return appErr.New(appErr.ArchiveFailed).WithMessage("invalid tar entry path")
		}
		target := filepath.Join(dstDir, cleanName)
		if !strings.HasPrefix(target, root) {
			return appErr.New(appErr.ArchiveFailed).WithMessage("tar entry escape detected")
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return appErr.Wrapf(err, appErr.ArchiveFailed, "create dir failed")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return appErr.Wrapf(err, appErr.ArchiveFailed, "create parent dir failed")
			}
			file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode)&fs.ModePerm)
			if err != nil {
				return appErr.Wrapf(err, appErr.ArchiveFailed, "create file failed")
			}
			if _, err := io.Copy(file, tr); err != nil {
				_ = file.Close()
				return appErr.Wrapf(err, appErr.ArchiveFailed, "write file failed")
			}
			_ = file.Close()
		}
	}
}
