package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/storage"
)

// Scratch directory for archives, inside the workspace but outside the source tree.
const packageDir = ".package"

// Paths left out of the source archive.
var sourceExcluded = map[string]bool{"public": true, ".git": true, "resources/_gen": true, packageDir: true}

func (b *Builder) stagePackage(ctx context.Context, bs *BuildState) error {
	outDir, err := bs.Workspace.CreateSubdir(packageDir)
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryPackaging, "failed to create package directory").Build()
	}
	meta := map[string]string{"job_id": bs.Input.JobID, "project_id": bs.Input.ProjectID}

	var site, source storage.Artifact
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := b.packageTree(gctx, storage.KindSite, filepath.Join(bs.SiteDir, "public"), filepath.Join(outDir, "site.zip"), nil, meta)
		site = a
		return err
	})
	g.Go(func() error {
		a, err := b.packageTree(gctx, storage.KindSource, bs.SiteDir, filepath.Join(outDir, "source.zip"), sourceExcluded, meta)
		source = a
		return err
	})
	err = g.Wait()

	bs.Site, bs.Source = site, source
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if derrors.IsClassified(err) {
			return err
		}
		return derrors.WrapError(err, derrors.CategoryPackaging, "failed to package site").Build()
	}
	bs.Logf("packaged site archive %s (%d bytes) and source archive %s (%d bytes)",
		short(site.Ref), site.Size, short(source.Ref), source.Size)
	return nil
}

// packageTree zips root into zipPath and moves the archive into the store.
func (b *Builder) packageTree(ctx context.Context, kind storage.Kind, root, zipPath string, exclude map[string]bool, meta map[string]string) (storage.Artifact, error) {
	if err := writeZip(ctx, root, zipPath, exclude); err != nil {
		return storage.Artifact{}, derrors.WrapError(err, derrors.CategoryPackaging, "failed to write archive").
			WithContext("kind", string(kind)).Build()
	}
	a, err := b.store.PutFile(ctx, kind, zipPath, meta)
	if err != nil {
		return storage.Artifact{}, derrors.WrapError(err, derrors.CategoryPackaging, "failed to store archive").
			WithContext("kind", string(kind)).Build()
	}
	return a, nil
}

func writeZip(ctx context.Context, root, zipPath string, exclude map[string]bool) error {
	// #nosec G304 - archive path is inside the build workspace
	f, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)

	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if exclude[rel] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			_, err := zw.Create(rel + "/")
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return addZipFile(zw, path, rel)
	})

	if err := zw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := f.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	return walkErr
}

func addZipFile(zw *zip.Writer, path, rel string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = rel
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	// #nosec G304 - walking the build workspace
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(w, in)
	return err
}

func short(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}
