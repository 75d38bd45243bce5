package session

type Event interface {
	// The task this event relates to.
	TaskID() TaskID
}

type TaskAdded struct {
	State TaskState
}

func (e TaskAdded) TaskID() TaskID {
	return e.State.ID
}

type TaskUpdated struct {
	OldState TaskState
	NewState TaskState
}

func (e TaskUpdated) TaskID() TaskID {
	return e.NewState.ID
}

// StatusChanged returns true if the update moved the task to a different status.
func (e TaskUpdated) StatusChanged() bool {
	return e.OldState.Status != e.NewState.Status
}

type TaskRemoved struct {
	State TaskState
}

func (e TaskRemoved) TaskID() TaskID {
	return e.State.ID
}
