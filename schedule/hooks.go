package schedule

// Hooks receives notifications after successful store mutations and executions.
// Failure paths never fire hooks.
type Hooks interface {
	OnScheduleSaved(sched *Schedule)
	OnScheduleUpdated(sched *Schedule)
	OnScheduleDeleted(id string)
	OnScheduleExecuted(id string, result *ExecutionResult)
}

// NopHooks is a Hooks implementation that ignores every event.
type NopHooks struct{}

func (NopHooks) OnScheduleSaved(*Schedule)                   {}
func (NopHooks) OnScheduleUpdated(*Schedule)                 {}
func (NopHooks) OnScheduleDeleted(string)                    {}
func (NopHooks) OnScheduleExecuted(string, *ExecutionResult) {}
