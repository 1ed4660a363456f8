package settings

// Hooks receives notifications after successful settings mutations.
// Failure paths never fire hooks. Implementations must be fast; slow work
// belongs on the consumer's own goroutine.
type Hooks interface {
	OnSettingChanged(key string, oldValue, newValue Value)
	OnSettingDeleted(key string, oldValue Value)
	OnSettingsImported(count int, source string)
	OnSettingsExported(count int, destination string)
}

// NopHooks is a Hooks implementation that ignores every event.
type NopHooks struct{}

func (NopHooks) OnSettingChanged(string, Value, Value) {}
func (NopHooks) OnSettingDeleted(string, Value)        {}
func (NopHooks) OnSettingsImported(int, string)        {}
func (NopHooks) OnSettingsExported(int, string)        {}
