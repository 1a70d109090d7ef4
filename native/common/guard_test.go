package common

import (
	"errors"
	"testing"
)

func TestGuardHonoursPauseSet(t *testing.T) {
	if err := Guard(nil, "ledger"); err != nil {
		t.Fatalf("nil view must not pause: %v", err)
	}
	set := NewPauseSet("Ledger")
	if err := Guard(set, "ledger"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	set.Set("ledger", false)
	if err := Guard(set, "ledger"); err != nil {
		t.Fatalf("expected resumed module, got %v", err)
	}
}

type fakeSnapshots struct {
	value    int
	saved    []int
	reverted int
	released int
}

func (f *fakeSnapshots) Snapshot() int {
	f.saved = append(f.saved, f.value)
	return len(f.saved) - 1
}

func (f *fakeSnapshots) RevertToSnapshot(id int) error {
	f.value = f.saved[id]
	f.saved = f.saved[:id]
	f.reverted++
	return nil
}

func (f *fakeSnapshots) ReleaseSnapshot(id int) {
	f.saved = f.saved[:id]
	f.released++
}

type fakeScope struct{ begun, committed, discarded int }

func (s *fakeScope) Begin()   { s.begun++ }
func (s *fakeScope) Commit()  { s.committed++ }
func (s *fakeScope) Discard() { s.discarded++ }

func TestAtomicRevertsOnError(t *testing.T) {
	st := &fakeSnapshots{value: 1}
	scope := &fakeScope{}
	boom := errors.New("boom")
	err := Atomic(st, scope, func() error {
		st.value = 2
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if st.value != 1 || st.reverted != 1 || scope.discarded != 1 || scope.committed != 0 {
		t.Fatalf("unexpected state after failure: %+v %+v", st, scope)
	}
}

func TestAtomicNestedInnerFailureRevertsOuter(t *testing.T) {
	st := &fakeSnapshots{value: 1}
	scope := &fakeScope{}
	err := Atomic(st, scope, func() error {
		st.value = 2
		return Atomic(st, scope, func() error {
			st.value = 3
			return errors.New("inner")
		})
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if st.value != 1 || st.reverted != 2 || len(st.saved) != 0 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestAtomicCommitsOnSuccess(t *testing.T) {
	st := &fakeSnapshots{value: 1}
	scope := &fakeScope{}
	if err := Atomic(st, scope, func() error {
		st.value = 5
		return nil
	}); err != nil {
		t.Fatalf("atomic: %v", err)
	}
	if st.value != 5 || st.released != 1 || scope.committed != 1 || scope.begun != 1 {
		t.Fatalf("unexpected state: %+v %+v", st, scope)
	}
}
