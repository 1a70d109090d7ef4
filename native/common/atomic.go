package common

// Snapshotter is the rollback surface of the state manager.
type Snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int) error
	ReleaseSnapshot(id int)
}

// EventScope buffers events raised during an atomic section.
type EventScope interface {
	Begin()
	Commit()
	Discard()
}

// Atomic runs fn so that either all of its state writes and events take
// effect or none do. Nested calls compose: an inner failure reverts only the
// inner section and the error still reaches the outer caller.
func Atomic(st Snapshotter, scope EventScope, fn func() error) (err error) {
	if st == nil {
		return fn()
	}
	id := st.Snapshot()
	if scope != nil {
		scope.Begin()
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if scope != nil {
			scope.Discard()
		}
		if revertErr := st.RevertToSnapshot(id); revertErr != nil && err == nil {
			err = revertErr
		}
		if r := recover(); r != nil {
			panic(r)
		}
	}()
	if err = fn(); err != nil {
		return err
	}
	committed = true
	st.ReleaseSnapshot(id)
	if scope != nil {
		scope.Commit()
	}
	return nil
}
