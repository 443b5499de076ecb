package kern

// HookPos defines the enum of possible hooking positions
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   interface{}
	Detail interface{}
}

// Hookable defines an object that accept Hooks
type Hookable interface {
	// AcceptHook registers a hook
	AcceptHook(hook Hook)
}

// HookPosTaskReady marks a task entering the Ready state.
var HookPosTaskReady = &HookPos{Name: "TaskReady"}

// HookPosTaskRun marks a task being dispatched to Running.
var HookPosTaskRun = &HookPos{Name: "TaskRun"}

// HookPosTaskBlock marks a task entering the Blocked state.
var HookPosTaskBlock = &HookPos{Name: "TaskBlock"}

// HookPosTaskSuspend marks a task entering the Suspended state.
var HookPosTaskSuspend = &HookPos{Name: "TaskSuspend"}

// HookPosTaskTerminate marks a task entering the Terminated state.
var HookPosTaskTerminate = &HookPos{Name: "TaskTerminate"}

// HookPosQueuePush marks an item entering a queue.
var HookPosQueuePush = &HookPos{Name: "QueuePush"}

// HookPosQueuePop marks an item leaving a queue.
var HookPosQueuePop = &HookPos{Name: "QueuePop"}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// A HookableBase provides some utility function for other type that implement
// the Hookable interface.
type HookableBase struct {
	Hooks []Hook
}

// AcceptHook register a hook
func (h *HookableBase) AcceptHook(hook Hook) {
	h.Hooks = append(h.Hooks, hook)
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	return len(h.Hooks)
}

// InvokeHook triggers the register Hooks
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.Hooks {
		hook.Func(ctx)
	}
}
