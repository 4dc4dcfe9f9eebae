package worker

import (
	"context"
	"sync/atomic"

	// Packages
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// SettingsProvider returns the current settings. It is called on every
// loop iteration and must not cache values an operator may change.
type SettingsProvider interface {
	Settings(context.Context) (schema.Settings, error)
}

// SettingsFunc adapts a function to a SettingsProvider
type SettingsFunc func(context.Context) (schema.Settings, error)

// SettingsValue holds settings which can be swapped while loops are running.
// The zero value holds the default settings.
type SettingsValue struct {
	v atomic.Pointer[schema.Settings]
}

type static schema.Settings

var _ SettingsProvider = SettingsFunc(nil)
var _ SettingsProvider = (*SettingsValue)(nil)
var _ SettingsProvider = static{}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// Static returns a provider which always returns the same settings
func Static(settings schema.Settings) SettingsProvider {
	return static(settings)
}

// NewSettingsValue returns a hot-swappable settings holder
func NewSettingsValue(settings schema.Settings) *SettingsValue {
	v := new(SettingsValue)
	v.Store(settings)
	return v
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (fn SettingsFunc) Settings(ctx context.Context) (schema.Settings, error) {
	return fn(ctx)
}

func (s static) Settings(context.Context) (schema.Settings, error) {
	return schema.Settings(s), nil
}

// Store replaces the settings
func (v *SettingsValue) Store(settings schema.Settings) {
	v.v.Store(&settings)
}

// Update applies a partial update and returns the new settings
func (v *SettingsValue) Update(meta schema.SettingsMeta) schema.Settings {
	for {
		old := v.v.Load()
		settings := schema.DefaultSettings()
		if old != nil {
			settings = *old
		}
		settings = settings.Apply(meta)
		if v.v.CompareAndSwap(old, &settings) {
			return settings
		}
	}
}

func (v *SettingsValue) Settings(context.Context) (schema.Settings, error) {
	if settings := v.v.Load(); settings != nil {
		return *settings, nil
	}
	return schema.DefaultSettings(), nil
}
