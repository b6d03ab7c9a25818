// Package pipelines разрешает путь к исполняемому файлу pipeline
// по площадке, имени, версии и каналу установки.
package pipelines

import (
	"fmt"
	"path/filepath"

	"github.com/shaiso/rpd-pipelines/internal/config"
)

// Channel — вариант установки pipeline'ов.
type Channel string

// Каналы установки.
const (
	ChannelProduction Channel = config.ChannelProduction
	ChannelDevel      Channel = config.ChannelDevel
)

// ParseChannel проверяет имя канала.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelProduction, ChannelDevel:
		return Channel(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
}

// ExecutableExt — расширение исполняемого файла pipeline.
const ExecutableExt = ".py"

// Pipeline — разрешённая установка pipeline.
type Pipeline struct {
	// Dir — директория pipeline: basedir/version/name.
	Dir string

	// Executable — wrapper pipeline: Dir/<base(Dir)>.py.
	Executable string
}

// Resolver отображает (site, name, version) в путь к pipeline.
//
// Канал задаётся явно при создании и не меняется. Resolve — чистая функция
// своих аргументов: одинаковые входы всегда дают одинаковый путь.
type Resolver struct {
	basedirs map[string]config.ChannelPaths
	channel  Channel
}

// NewResolver создаёт Resolver по таблице site → пути установки.
func NewResolver(basedirs map[string]config.ChannelPaths, channel Channel) (*Resolver, error) {
	if _, err := ParseChannel(string(channel)); err != nil {
		return nil, err
	}

	table := make(map[string]config.ChannelPaths, len(basedirs))
	for site, paths := range basedirs {
		table[site] = paths
	}

	return &Resolver{basedirs: table, channel: channel}, nil
}

// Channel возвращает канал Resolver'а.
func (r *Resolver) Channel() Channel {
	return r.channel
}

// Known проверяет, есть ли площадка в таблице.
func (r *Resolver) Known(site string) bool {
	_, ok := r.basedirs[site]
	return ok
}

// Resolve возвращает установку pipeline.
// Пустая версия допустима (testing-режим): путь строится без неё.
func (r *Resolver) Resolve(site, name, version string) (Pipeline, error) {
	paths, ok := r.basedirs[site]
	if !ok {
		return Pipeline{}, fmt.Errorf("%w: %s", ErrUnknownSite, site)
	}

	basedir := paths.For(string(r.channel))
	if basedir == "" {
		return Pipeline{}, fmt.Errorf("%w: no %s path for site %s", ErrUnknownChannel, r.channel, site)
	}

	dir := filepath.Join(basedir, version, name)
	return Pipeline{
		Dir:        dir,
		Executable: filepath.Join(dir, filepath.Base(dir)+ExecutableExt),
	}, nil
}
