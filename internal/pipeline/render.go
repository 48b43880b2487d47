package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
)

// Renderer performs the static-site build inside a scaffolded site directory.
// Output is expected under public/.
type Renderer interface {
	Execute(ctx context.Context, siteDir string) error
}

// BinaryRenderer invokes the hugo binary.
type BinaryRenderer struct {
	Binary string
}

func (r *BinaryRenderer) Execute(ctx context.Context, siteDir string) error {
	bin := r.Binary
	if bin == "" {
		bin = "hugo"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return derrors.WrapError(err, derrors.CategoryBuild, "hugo binary not found").
			WithContext("binary", bin).Build()
	}

	// #nosec G204 - binary comes from service configuration
	cmd := exec.CommandContext(ctx, bin, "--minify", "--gc", "--cleanDestinationDir", "--environment", "production")
	cmd.Dir = siteDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	slog.Debug("Invoking hugo", logfields.Path(siteDir))

	err := cmd.Run()
	if out := stdout.String(); out != "" {
		slog.Debug("hugo stdout", "output", out)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		output := strings.TrimSpace(stderr.String())
		if output == "" {
			output = strings.TrimSpace(stdout.String())
		}
		return derrors.WrapError(err, derrors.CategoryBuild, "hugo build failed").
			WithContext("output", output).Build()
	}
	return nil
}

// NoopRenderer writes nothing; builds using it fail the output check unless
// public/ was prepared by other means.
type NoopRenderer struct{}

func (NoopRenderer) Execute(_ context.Context, siteDir string) error {
	slog.Debug("NoopRenderer skipping render", logfields.Path(siteDir))
	return nil
}

func (b *Builder) stageBuild(ctx context.Context, bs *BuildState) error {
	if err := b.renderer.Execute(ctx, bs.SiteDir); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if derrors.IsClassified(err) {
			return err
		}
		return derrors.WrapError(err, derrors.CategoryBuild, "site build failed").Build()
	}

	index := filepath.Join(bs.SiteDir, "public", "index.html")
	// #nosec G304 - path is inside the build workspace
	data, err := os.ReadFile(index)
	if err != nil {
		return derrors.BuildError("build produced no public/index.html").Build()
	}
	if t := pageTitle(data); t != "" {
		bs.SiteTitle = t
	}
	files := countFiles(filepath.Join(bs.SiteDir, "public"))
	bs.Logf("site built: %d files in public/", files)
	return nil
}

// pageTitle returns the text of the first <title> element.
func pageTitle(doc []byte) string {
	z := html.NewTokenizer(bytes.NewReader(doc))
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inTitle = string(name) == "title"
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(z.Text()))
			}
		case html.EndTagToken:
			inTitle = false
		}
	}
}

func countFiles(dir string) int {
	n := 0
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return nil
	})
	return n
}
