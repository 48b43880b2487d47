package pipeline

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/klauspost/compress/gzip"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/themes"
	"git.home.luguber.info/inful/sitebuilder/internal/version"
)

// ThemeFetcher downloads a theme into dest.
type ThemeFetcher interface {
	Name() string
	Fetch(ctx context.Context, src themes.InstallSource, dest string) error
}

// ThemeInstaller copies a theme into a site's themes/ directory: a local copy
// when one exists, else the primary fetcher, else the secondary one.
type ThemeInstaller struct {
	themesDir string
	primary   ThemeFetcher
	secondary ThemeFetcher
}

// NewThemeInstaller uses a shallow git clone as primary method and a tarball
// download as fallback.
func NewThemeInstaller(themesDir string, client *http.Client) *ThemeInstaller {
	return &ThemeInstaller{
		themesDir: themesDir,
		primary:   GitFetcher{},
		secondary: ArchiveFetcher{Client: client},
	}
}

// WithFetchers replaces the remote fetchers.
func (ti *ThemeInstaller) WithFetchers(primary, secondary ThemeFetcher) *ThemeInstaller {
	ti.primary, ti.secondary = primary, secondary
	return ti
}

// Install places def under siteDir/themes/<id> and checks that it carries a
// layouts directory. It returns the method that succeeded.
func (ti *ThemeInstaller) Install(ctx context.Context, def *themes.Definition, siteDir string) (string, error) {
	dest := filepath.Join(siteDir, "themes", def.ID)
	if err := os.RemoveAll(dest); err != nil {
		return "", derrors.WrapError(err, derrors.CategoryFileSystem, "failed to clear theme directory").Build()
	}

	if local := ti.localPath(def); local != "" {
		if err := copyTree(local, dest); err != nil {
			return "", derrors.WrapError(err, derrors.CategoryThemeInstall, "failed to copy local theme").
				WithContext("theme_id", def.ID).Build()
		}
		return "local", validateTheme(def, dest)
	}
	if def.Install.Repo == "" && def.Install.Archive == "" {
		return "", derrors.ThemeInstallError("theme has no install source").
			WithContext("theme_id", def.ID).Build()
	}

	var errs []error
	for _, f := range []ThemeFetcher{ti.primary, ti.secondary} {
		if f == nil {
			continue
		}
		err := f.Fetch(ctx, def.Install, dest)
		if err == nil {
			_ = os.RemoveAll(filepath.Join(dest, ".git"))
			return f.Name(), validateTheme(def, dest)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Warn("Theme fetch failed", logfields.ThemeID(def.ID), logfields.Name(f.Name()), logfields.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", f.Name(), err))
		_ = os.RemoveAll(dest)
	}
	return "", derrors.WrapError(errors.Join(errs...), derrors.CategoryThemeInstall, "all theme install methods failed").
		Retryable().
		WithContext("theme_id", def.ID).
		WithContext("attempts", len(errs)).Build()
}

func (ti *ThemeInstaller) localPath(def *themes.Definition) string {
	if ti.themesDir == "" || def.Install.Local == "" {
		return ""
	}
	p := filepath.Join(ti.themesDir, filepath.Clean("/"+def.Install.Local))
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		return p
	}
	return ""
}

func validateTheme(def *themes.Definition, dir string) error {
	info, err := os.Stat(filepath.Join(dir, "layouts"))
	if err != nil || !info.IsDir() {
		return derrors.ThemeInstallError("installed theme has no layouts directory").
			WithContext("theme_id", def.ID).Build()
	}
	return nil
}

func (b *Builder) stageThemeInstall(ctx context.Context, bs *BuildState) error {
	reg := b.engine.Registry()
	def, _ := reg.Get(bs.Input.ThemeID)

	method, err := b.installer.Install(ctx, def, bs.SiteDir)
	if err == nil {
		bs.Theme = def
		bs.Logf("installed theme %s via %s", def.ID, method)
		return nil
	}
	if ctx.Err() != nil || def.ID == reg.DefaultTheme() {
		return err
	}

	bs.Errorf("theme %s install failed: %v", def.ID, err)
	fallback, ok := reg.Get(reg.DefaultTheme())
	if !ok {
		return err
	}
	slog.Warn("Retrying theme install with default theme",
		logfields.JobID(bs.Input.JobID), logfields.ThemeID(def.ID), slog.String("fallback", fallback.ID))
	method, ferr := b.installer.Install(ctx, fallback, bs.SiteDir)
	if ferr != nil {
		return derrors.WrapError(errors.Join(err, ferr), derrors.CategoryThemeInstall,
			"theme install failed and default theme fallback failed").
			Retryable().
			WithContext("theme_id", def.ID).
			WithContext("fallback_theme_id", fallback.ID).Build()
	}
	_ = os.RemoveAll(filepath.Join(bs.SiteDir, "themes", def.ID))
	bs.Theme = fallback
	bs.Logf("installed default theme %s via %s after %s failed", fallback.ID, method, def.ID)
	return nil
}

// GitFetcher shallow-clones a single branch with go-git.
type GitFetcher struct{}

func (GitFetcher) Name() string { return "git" }

func (GitFetcher) Fetch(ctx context.Context, src themes.InstallSource, dest string) error {
	if src.Repo == "" {
		return errors.New("no repository configured")
	}
	opts := &git.CloneOptions{URL: src.Repo, Depth: 1, SingleBranch: true}
	if src.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(src.Branch)
	}
	if _, err := git.PlainCloneContext(ctx, dest, false, opts); err != nil {
		return fmt.Errorf("clone %s: %w", src.Repo, err)
	}
	return nil
}

// ArchiveFetcher downloads a tar.gz snapshot and extracts it, dropping the
// archive's single top-level directory.
type ArchiveFetcher struct {
	Client *http.Client
}

func (ArchiveFetcher) Name() string { return "archive" }

func (a ArchiveFetcher) Fetch(ctx context.Context, src themes.InstallSource, dest string) error {
	url := src.ArchiveURL()
	if url == "" {
		return errors.New("no archive url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	return extractTarGz(resp.Body, dest)
}

func extractTarGz(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	wrote := false
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		rel := stripTopDir(hdr.Name)
		if rel == "" {
			continue
		}
		target := filepath.Join(dest, rel)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return err
			}
			if err := writeFile(target, tr); err != nil {
				return err
			}
			wrote = true
		default:
			// Links and devices are not needed by themes.
		}
	}
	if !wrote {
		return errors.New("archive contained no files")
	}
	return nil
}

func stripTopDir(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	i := strings.IndexByte(name, '/')
	if i < 0 {
		return ""
	}
	return filepath.FromSlash(strings.TrimSuffix(name[i+1:], "/"))
}

func writeFile(path string, r io.Reader) error {
	// #nosec G304 - path is checked against the destination root
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// copyTree copies src into dst, skipping version-control metadata.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		// #nosec G304 - walking a configured themes directory
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		return writeFile(target, in)
	})
}
