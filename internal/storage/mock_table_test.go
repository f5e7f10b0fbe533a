package storage

import "testing"

func TestMockTableDeferredWorkAndCallbacksOrdering(t *testing.T) {
	mock := NewMockTable(newOrdersMemTable())
	mock.SetDeferWork(true)
	mock.SetDeferCallbacks(true)

	var callbackOrder []string
	for _, pk := range []string{"pk0", "pk1", "pk2"} {
		pk := pk
		if err := mock.Write([]byte(pk), []byte("FIX0"), false, func(o CommitOutcome) {
			callbackOrder = append(callbackOrder, pk)
		}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if mock.PendingWork() != 3 {
		t.Fatalf("PendingWork = %d, want 3", mock.PendingWork())
	}
	if len(callbackOrder) != 0 {
		t.Fatal("callbacks fired before performWork/performCallbacks")
	}

	if n := mock.PerformWork(); n != 3 {
		t.Fatalf("PerformWork drained %d, want 3", n)
	}
	if len(callbackOrder) != 0 {
		t.Fatal("callbacks fired before performCallbacks")
	}

	if n := mock.PerformCallbacks(); n != 3 {
		t.Fatalf("PerformCallbacks drained %d, want 3", n)
	}

	want := []string{"pk0", "pk1", "pk2"}
	if len(callbackOrder) != len(want) {
		t.Fatalf("callbackOrder = %v, want %v", callbackOrder, want)
	}
	for i, pk := range want {
		if callbackOrder[i] != pk {
			t.Fatalf("callback order[%d] = %s, want %s", i, callbackOrder[i], pk)
		}
	}
}

func TestMockTableImmediateMode(t *testing.T) {
	mock := NewMockTable(newOrdersMemTable())
	var fired bool
	if err := mock.Write([]byte("pk0"), []byte("FIX0"), false, func(o CommitOutcome) { fired = true }); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !fired {
		t.Fatal("expected immediate callback when neither defer flag is set")
	}
	if _, ok, _ := mock.Find([]byte("pk0")); !ok {
		t.Fatal("expected row visible immediately")
	}
}
