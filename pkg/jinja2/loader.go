package jinja2

import (
	"errors"
	"io/fs"
	"path"
)

// Loader supplies template source by name for Engine.RegisterFrom.
type Loader interface {
	Load(name string) (string, error)
}

// MemoryLoader serves templates from a map.
type MemoryLoader map[string]string

func (m MemoryLoader) Load(name string) (string, error) {
	if s, ok := m[name]; ok {
		return s, nil
	}
	return "", &Error{Kind: KindTemplateNotFound, Template: name, Msg: "no such template in loader"}
}

// FSLoader serves templates from a file system. Template names are slash
// separated paths relative to Root.
type FSLoader struct {
	FS   fs.FS
	Root string
}

func (l FSLoader) Load(name string) (string, error) {
	b, err := fs.ReadFile(l.FS, path.Join(l.Root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", &Error{Kind: KindTemplateNotFound, Template: name, Err: err}
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}
