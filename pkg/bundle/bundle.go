// Package bundle reads a YAML manifest describing a set of templates, the
// engine options they expect and a default context.
//
//	options:
//	  undefined: lenient
//	  max_depth: 50
//	context:
//	  site: example
//	files:
//	  - name: layout.html
//	    path: layouts/base.html
//	  - name: footer.html
//	    url: https://example.com/templates/footer.html
//	  - name: header.html
//	    url: partials/header.html   # resolved against base_url
//	base_url: https://example.com/templates/
//	templates:
//	  page.html: '{% extends "layout.html" %}'
//	render: [page.html]
package bundle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"

	"github.com/neurodesk/jinja/pkg/contextfile"
	"github.com/neurodesk/jinja/pkg/jinja2"
	"github.com/neurodesk/jinja/pkg/netcache"
	v "github.com/neurodesk/jinja/pkg/validator"

	"gopkg.in/yaml.v3"
)

type Options struct {
	Undefined string `yaml:"undefined,omitempty"`
	MaxDepth  int    `yaml:"max_depth,omitempty"`
}

func (o Options) Validate() error {
	return v.All(
		v.MatchesAllowed(o.Undefined, []string{"", "strict", "lenient"}, "options.undefined"),
		func() error {
			if o.MaxDepth < 0 {
				return fmt.Errorf("options.max_depth must not be negative, got %d", o.MaxDepth)
			}
			return nil
		}(),
	)
}

// EngineOptions translates the manifest options.
func (o Options) EngineOptions() ([]jinja2.Option, error) {
	u, err := jinja2.ParseUndefined(o.Undefined)
	if err != nil {
		return nil, err
	}
	opts := []jinja2.Option{jinja2.WithUndefined(u)}
	if o.MaxDepth > 0 {
		opts = append(opts, jinja2.WithMaxDepth(o.MaxDepth))
	}
	return opts, nil
}

// File is a template stored next to the manifest or fetched from a URL.
// Exactly one of Path and URL is set. A relative URL is resolved against the
// bundle's base_url.
type File struct {
	Name string `yaml:"name"`
	Path string `yaml:"path,omitempty"`
	URL  string `yaml:"url,omitempty"`
}

func (f File) Validate() error {
	return v.All(
		v.NotEmpty(f.Name, "file name"),
		v.HasNoJinja(f.Name, "file name"),
		func() error {
			switch {
			case f.Path == "" && f.URL == "":
				return fmt.Errorf("file %q needs a path or a url", f.Name)
			case f.Path != "" && f.URL != "":
				return fmt.Errorf("file %q has both a path and a url", f.Name)
			case f.URL != "":
				u, err := url.Parse(f.URL)
				if err != nil || (u.IsAbs() && ((u.Scheme != "http" && u.Scheme != "https") || u.Host == "")) {
					return fmt.Errorf("url of file %q must be an http(s) url or a path below base_url: %s", f.Name, f.URL)
				}
			case !filepath.IsLocal(f.Path):
				return fmt.Errorf("path of file %q must be relative to the bundle and stay inside it: %s", f.Name, f.Path)
			}
			return nil
		}(),
	)
}

type Bundle struct {
	Options   Options                          `yaml:"options,omitempty"`
	Context   yaml.Node                        `yaml:"context,omitempty"`
	Files     []File                           `yaml:"files,omitempty"`
	Templates map[string]jinja2.TemplateString `yaml:"templates,omitempty"`
	Render    []string                         `yaml:"render,omitempty"`
	BaseURL   string                           `yaml:"base_url,omitempty"`

	// Cache fetches files given by URL. When nil a cache under the user
	// cache directory is used.
	Cache *netcache.Cache `yaml:"-"`

	dir string
}

// Load reads and validates the manifest at path. File paths resolve against
// the manifest's directory.
func Load(path string) (*Bundle, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}
	b, err := Decode(bytes.NewReader(content), filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", path, err)
	}
	return b, nil
}

// Decode reads a manifest. Unknown fields are an error.
func Decode(r io.Reader, dir string) (*Bundle, error) {
	var b Bundle
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode bundle: %w", err)
	}
	b.dir = dir
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bundle: %w", err)
	}
	return &b, nil
}

// Names returns every template name the bundle defines, files first.
func (b *Bundle) Names() []string {
	names := make([]string, 0, len(b.Files)+len(b.Templates))
	for _, f := range b.Files {
		names = append(names, f.Name)
	}
	inline := make([]string, 0, len(b.Templates))
	for name := range b.Templates {
		inline = append(inline, name)
	}
	slices.Sort(inline)
	return append(names, inline...)
}

func (b *Bundle) Validate() error {
	names := b.Names()
	return v.All(
		b.Options.Validate(),
		v.Each(b.Files),
		b.validateBaseURL(),
		v.MapDict(b.Templates, func(key string, value jinja2.TemplateString) error {
			return v.All(
				v.NotEmpty(key, "template name"),
				v.HasNoJinja(key, "template name"),
				value.Validate(),
			)
		}, "templates"),
		v.NoDuplicates(names, "template names"),
		v.Map(b.Render, func(name string, key string) error {
			return v.All(
				v.NotEmpty(name, key),
				v.MatchesAllowed(name, names, key),
			)
		}, "render"),
		v.NoDuplicates(b.Render, "render"),
	)
}

func (b *Bundle) validateBaseURL() error {
	if b.BaseURL != "" {
		u, err := url.Parse(b.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("base_url must be an absolute http(s) url: %s", b.BaseURL)
		}
	}
	for _, f := range b.Files {
		if !isRelativeURL(f.URL) {
			continue
		}
		if b.BaseURL == "" {
			return fmt.Errorf("file %q has a relative url but the bundle has no base_url", f.Name)
		}
		if _, err := b.remote(context.TODO()).URL(f.URL); err != nil {
			return fmt.Errorf("url of file %q: %w", f.Name, err)
		}
	}
	return nil
}

func isRelativeURL(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && !u.IsAbs()
}

// remote serves relative file urls below base_url.
func (b *Bundle) remote(ctx context.Context) netcache.Loader {
	return netcache.Loader{Cache: b.Cache, BaseURL: b.BaseURL, Context: ctx}
}

// DefaultContext returns the manifest's context section.
func (b *Bundle) DefaultContext() (jinja2.Context, error) {
	if b.Context.Kind == 0 {
		return jinja2.Context{}, nil
	}
	root, err := contextfile.FromNode(&b.Context)
	if err != nil {
		return nil, fmt.Errorf("bundle context: %w", err)
	}
	switch d := root.(type) {
	case jinja2.NoneValue:
		return jinja2.Context{}, nil
	case *jinja2.DictValue:
		return contextfile.FromDict(d)
	}
	return nil, fmt.Errorf("bundle context must be a mapping, got %s", root.Kind())
}

func (b *Bundle) cache() (*netcache.Cache, error) {
	if b.Cache != nil {
		return b.Cache, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("no cache directory for remote files: %w", err)
	}
	b.Cache = netcache.New(filepath.Join(dir, "jinja"))
	return b.Cache, nil
}

// Sources collects the source of every template, reading files from the
// bundle directory and fetching remote ones.
func (b *Bundle) Sources(ctx context.Context) (map[string]string, error) {
	srcs := make(map[string]string, len(b.Files)+len(b.Templates))
	loader := jinja2.FSLoader{FS: os.DirFS(b.dir)}
	for _, f := range b.Files {
		var src string
		var err error
		switch {
		case isRelativeURL(f.URL):
			if _, err = b.cache(); err == nil {
				src, err = b.remote(ctx).Load(f.URL)
			}
		case f.URL != "":
			var c *netcache.Cache
			if c, err = b.cache(); err == nil {
				var body []byte
				body, err = c.Fetch(ctx, f.URL)
				src = string(body)
			}
		default:
			src, err = loader.Load(filepath.ToSlash(f.Path))
		}
		if err != nil {
			return nil, fmt.Errorf("loading file %q: %w", f.Name, err)
		}
		srcs[f.Name] = src
	}
	for name, src := range b.Templates {
		srcs[name] = string(src)
	}
	return srcs, nil
}

// Engine builds an engine with the bundle's options and every template
// registered. extra options are applied after the manifest's.
func (b *Bundle) Engine(logger *slog.Logger, extra ...jinja2.Option) (*jinja2.Engine, error) {
	opts, err := b.Options.EngineOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, jinja2.WithLogger(logger))
	opts = append(opts, extra...)
	e := jinja2.New(opts...)
	srcs, err := b.Sources(context.Background())
	if err != nil {
		return nil, err
	}
	if err := e.RegisterAll(srcs); err != nil {
		return nil, fmt.Errorf("registering bundle templates: %w", err)
	}
	return e, nil
}
