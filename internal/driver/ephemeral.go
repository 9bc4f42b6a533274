package driver

// NewEphemeralTask builds a Task for an ephemeral run: the driver
// synthesizes and tears down the conversation directory itself, so the
// caller supplies only the task text.
func NewEphemeralTask(taskText string) Task {
	return Task{TaskText: taskText, Ephemeral: true}
}
