package recording

// Hooks receives notifications after successful store mutations. Failure
// paths never fire hooks.
type Hooks interface {
	OnRecordingSaved(rec *Recording)
	OnRecordingUpdated(rec *Recording)
	OnRecordingDeleted(id string)
}

// NopHooks is a Hooks implementation that ignores every event.
type NopHooks struct{}

func (NopHooks) OnRecordingSaved(*Recording)   {}
func (NopHooks) OnRecordingUpdated(*Recording) {}
func (NopHooks) OnRecordingDeleted(string)     {}
