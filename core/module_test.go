package core

import "testing"

func TestRegistryRejectsDuplicateIDAndName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewModule(1, "a")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(NewModule(1, "b")); err == nil {
		t.Fatalf("expected duplicate id rejection")
	}
	if err := r.Register(NewModule(2, "a")); err == nil {
		t.Fatalf("expected duplicate name rejection")
	}
}

func TestReducerHandlerInvokeDispatch(t *testing.T) {
	r := NewRegistry()
	m := NewModule(1, "token")
	called := false
	m.RegisterReducer("apply", func(state *StateStore, tx *Transaction, params map[uint32]interface{}) error {
		called = true
		return nil
	})
	if err := r.Register(m); err != nil {
		t.Fatalf("register: %v", err)
	}

	h := NewReducerHandler(r)
	if err := h.Invoke("token:apply", nil, nil, nil); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !called {
		t.Fatalf("reducer was not invoked")
	}
}

func TestReducerHandlerInvokeUnknownReducer(t *testing.T) {
	r := NewRegistry()
	h := NewReducerHandler(r)

	cases := []string{"noColon", "missing:fn", ""}
	for _, name := range cases {
		err := h.Invoke(name, nil, nil, nil)
		if _, ok := err.(*UnknownReducerError); !ok {
			t.Fatalf("Invoke(%q): expected *UnknownReducerError, got %v", name, err)
		}
	}

	m := NewModule(1, "token")
	if err := r.Register(m); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.Invoke("token:missingFn", nil, nil, nil); err == nil {
		t.Fatalf("expected unknown reducer for unregistered function name")
	}
}

func TestRunHooksOrderAndShortCircuit(t *testing.T) {
	r := NewRegistry()
	var order []string

	m1 := NewModule(1, "first")
	m1.RegisterHook(HookBeforeBlockApply, func(block *Block, state *StateStore) error {
		order = append(order, "first")
		return nil
	}, nil)
	m2 := NewModule(2, "second")
	m2.RegisterHook(HookBeforeBlockApply, func(block *Block, state *StateStore) error {
		order = append(order, "second")
		return errBoom
	}, nil)
	m3 := NewModule(3, "third")
	m3.RegisterHook(HookBeforeBlockApply, func(block *Block, state *StateStore) error {
		order = append(order, "third")
		return nil
	}, nil)

	if err := r.Register(m1); err != nil {
		t.Fatalf("register m1: %v", err)
	}
	if err := r.Register(m2); err != nil {
		t.Fatalf("register m2: %v", err)
	}
	if err := r.Register(m3); err != nil {
		t.Fatalf("register m3: %v", err)
	}

	err := r.RunHooks(HookBeforeBlockApply, nil, nil)
	if err != errBoom {
		t.Fatalf("expected errBoom, got %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected hooks to run in registration order and stop at the failing one, got %v", order)
	}
}

type sentinelError struct{}

func (sentinelError) Error() string { return "boom" }

var errBoom = sentinelError{}
