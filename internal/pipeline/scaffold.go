package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
)

// Hugo project directories created for every site.
var siteDirs = []string{"archetypes", "assets", "content", "data", "i18n", "layouts", "static", "themes"}

// Config file names Hugo recognises, in lookup order.
var manifestNames = []string{"hugo.yaml", "hugo.toml", "hugo.json", "config.yaml", "config.toml", "config.json"}

const defaultArchetype = `---
title: "{{ replace .File.ContentBaseName "-" " " | title }}"
date: {{ .Date }}
draft: false
---
`

func (b *Builder) stageScaffold(_ context.Context, bs *BuildState) error {
	ws, err := b.workspaces.Create(bs.Input.Data.BusinessName())
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryFileSystem, "failed to create workspace").Build()
	}
	bs.Workspace = ws
	bs.SiteDir = ws.Path()

	for _, d := range siteDirs {
		if _, err := ws.CreateSubdir(d); err != nil {
			return derrors.WrapError(err, derrors.CategoryFileSystem, "failed to scaffold site").
				WithContext("dir", d).Build()
		}
	}
	archetype := filepath.Join(bs.SiteDir, "archetypes", "default.md")
	if err := os.WriteFile(archetype, []byte(defaultArchetype), 0o600); err != nil {
		return derrors.WrapError(err, derrors.CategoryFileSystem, "failed to write archetype").Build()
	}
	if err := ensureManifest(bs); err != nil {
		return err
	}
	bs.Logf("scaffolded site in %s", filepath.Base(bs.SiteDir))
	return nil
}

// ensureManifest synthesizes a minimal hugo.yaml when no config exists yet.
func ensureManifest(bs *BuildState) error {
	for _, name := range manifestNames {
		if _, err := os.Stat(filepath.Join(bs.SiteDir, name)); err == nil {
			return nil
		}
	}
	title := bs.Input.Data.BusinessName()
	if title == "" {
		title = "My New Site"
	}
	data, err := yaml.Marshal(map[string]any{
		"baseURL":      "/",
		"languageCode": "en-us",
		"title":        title,
	})
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryInternal, "failed to encode default manifest").Build()
	}
	if err := os.WriteFile(filepath.Join(bs.SiteDir, "hugo.yaml"), data, 0o600); err != nil {
		return derrors.WrapError(err, derrors.CategoryFileSystem, "failed to write default manifest").Build()
	}
	bs.Logf("synthesized default site manifest")
	return nil
}
