// Package prefs хранит локальные настройки клиента (флаг звуковых уведомлений)
// в файле через viper и сообщает о правках файла извне.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/teamchat/internal/logger"
)

const KeySoundEnabled = "sound_notifications_enabled"

// File: настройки в YAML-файле. Реализует audio.FlagStore.
type File struct {
	v *viper.Viper

	mu        sync.Mutex
	enabled   bool
	listeners []func(bool)
}

// Open читает файл настроек (создаёт его со значениями по умолчанию, если его нет) и начинает следить за ним.
func Open(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault(KeySoundEnabled, true)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("prefs: mkdir: %w", err)
		}
		if err := v.WriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("prefs: create %s: %w", path, err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("prefs: read %s: %w", path, err)
	}

	f := &File{v: v, enabled: v.GetBool(KeySoundEnabled)}
	v.OnConfigChange(f.reload)
	v.WatchConfig()
	return f, nil
}

func (f *File) SoundEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// SetSoundEnabled сохраняет флаг в файл. Собственная запись слушателей не будит.
func (f *File) SetSoundEnabled(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
	f.v.Set(KeySoundEnabled, enabled)
	if err := f.v.WriteConfig(); err != nil {
		return fmt.Errorf("prefs: write: %w", err)
	}
	return nil
}

func (f *File) OnChange(fn func(enabled bool)) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

func (f *File) reload(e fsnotify.Event) {
	// viper уже перечитал файл к моменту вызова
	enabled := f.v.GetBool(KeySoundEnabled)
	f.mu.Lock()
	if enabled == f.enabled {
		f.mu.Unlock()
		return
	}
	f.enabled = enabled
	listeners := append([]func(bool){}, f.listeners...)
	f.mu.Unlock()

	logger.Debugf("prefs: %s changed (%s)", e.Name, e.Op)
	for _, fn := range listeners {
		fn(enabled)
	}
}

// Memory: настройки без файла (сервер, тесты).
type Memory struct {
	mu        sync.Mutex
	enabled   bool
	listeners []func(bool)
}

func NewMemory(enabled bool) *Memory { return &Memory{enabled: enabled} }

func (m *Memory) SoundEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *Memory) SetSoundEnabled(enabled bool) error {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
	return nil
}

func (m *Memory) OnChange(fn func(enabled bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Set меняет флаг «извне» и будит слушателей.
func (m *Memory) Set(enabled bool) {
	m.mu.Lock()
	changed := m.enabled != enabled
	m.enabled = enabled
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()
	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(enabled)
	}
}
