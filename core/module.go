package core

// module.go implements the module registry of §4.1: named modules
// register reducers and hook callbacks, and are dispatched by a plain
// "module:func" string key, never via reflection. Generalizes the
// teacher's domain-module registration pattern (previously scattered
// across the deleted Nodes/Tokens packages) into the single flat registry
// the DPoS processor dispatches through.

import (
	"fmt"
	"strings"
)

// HookKind identifies one of the pipeline stages hooks can attach to
// (§4.1, §4.8).
type HookKind int

const (
	HookBeforeBlockApply HookKind = iota
	HookAfterBlockApply
	HookBeforeTransactionApply
	HookAfterTransactionApply
	HookAfterGenesisBlockApply
)

// BlockHookFunc runs before/after a block's transactions apply.
type BlockHookFunc func(block *Block, state *StateStore) error

// TransactionHookFunc runs before/after a single transaction applies.
type TransactionHookFunc func(tx *Transaction, state *StateStore) error

// ReducerFunc executes one transaction asset's state transition. params is
// the already-schema-decoded asset payload.
type ReducerFunc func(state *StateStore, tx *Transaction, params map[uint32]interface{}) error

// Module is a named collection of reducers and hook callbacks identified
// by a stable numeric id (used in Transaction.ModuleID).
type Module struct {
	ID   uint32
	Name string

	reducers map[string]ReducerFunc

	beforeBlock       []BlockHookFunc
	afterBlock        []BlockHookFunc
	beforeTransaction []TransactionHookFunc
	afterTransaction  []TransactionHookFunc
	afterGenesis      []BlockHookFunc
}

// NewModule constructs an empty module shell ready for reducer/hook
// registration.
func NewModule(id uint32, name string) *Module {
	return &Module{ID: id, Name: name, reducers: make(map[string]ReducerFunc)}
}

// RegisterReducer attaches fn under this module's "name:fn" dispatch key.
func (m *Module) RegisterReducer(name string, fn ReducerFunc) {
	m.reducers[name] = fn
}

// RegisterHook attaches fn to the given pipeline stage, preserving
// registration order (§4.8: hooks run in the order modules were
// registered).
func (m *Module) RegisterHook(kind HookKind, blockFn BlockHookFunc, txFn TransactionHookFunc) {
	switch kind {
	case HookBeforeBlockApply:
		m.beforeBlock = append(m.beforeBlock, blockFn)
	case HookAfterBlockApply:
		m.afterBlock = append(m.afterBlock, blockFn)
	case HookBeforeTransactionApply:
		m.beforeTransaction = append(m.beforeTransaction, txFn)
	case HookAfterTransactionApply:
		m.afterTransaction = append(m.afterTransaction, txFn)
	case HookAfterGenesisBlockApply:
		m.afterGenesis = append(m.afterGenesis, blockFn)
	}
}

// Registry is the process-wide set of registered modules, indexed both by
// id (for Transaction.ModuleID dispatch) and by name (for "module:func"
// reducer dispatch).
type Registry struct {
	byID   map[uint32]*Module
	byName map[string]*Module
	order  []*Module
}

// NewRegistry constructs an empty module registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint32]*Module), byName: make(map[string]*Module)}
}

// Register adds m to the registry, rejecting a colliding id or name.
func (r *Registry) Register(m *Module) error {
	if _, ok := r.byID[m.ID]; ok {
		return &DuplicateError{Kind: "module id", Name: fmt.Sprintf("%d", m.ID)}
	}
	if _, ok := r.byName[m.Name]; ok {
		return &DuplicateError{Kind: "module name", Name: m.Name}
	}
	r.byID[m.ID] = m
	r.byName[m.Name] = m
	r.order = append(r.order, m)
	return nil
}

// ByID resolves a module by its numeric id, for transaction dispatch.
func (r *Registry) ByID(id uint32) (*Module, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// ByName resolves a module by name.
func (r *Registry) ByName(name string) (*Module, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// ReducerHandler invokes a "module:func" qualified reducer name, rejecting
// unknown modules or unknown reducer names (§4.1).
type ReducerHandler struct {
	registry *Registry
}

// NewReducerHandler constructs a handler bound to registry.
func NewReducerHandler(registry *Registry) *ReducerHandler {
	return &ReducerHandler{registry: registry}
}

// Invoke parses qualifiedName as "module:func" and runs the bound reducer.
func (h *ReducerHandler) Invoke(qualifiedName string, state *StateStore, tx *Transaction, params map[uint32]interface{}) error {
	moduleName, fnName, ok := strings.Cut(qualifiedName, ":")
	if !ok {
		return &UnknownReducerError{Name: qualifiedName}
	}
	m, ok := h.registry.ByName(moduleName)
	if !ok {
		return &UnknownReducerError{Name: qualifiedName}
	}
	fn, ok := m.reducers[fnName]
	if !ok {
		return &UnknownReducerError{Name: qualifiedName}
	}
	return fn(state, tx, params)
}

// RunHooks runs every registered module's block-scoped hook of kind, in
// registration order, short-circuiting on the first error.
func (r *Registry) RunHooks(kind HookKind, block *Block, state *StateStore) error {
	for _, m := range r.order {
		var hooks []BlockHookFunc
		switch kind {
		case HookBeforeBlockApply:
			hooks = m.beforeBlock
		case HookAfterBlockApply:
			hooks = m.afterBlock
		case HookAfterGenesisBlockApply:
			hooks = m.afterGenesis
		default:
			continue
		}
		for _, fn := range hooks {
			if err := fn(block, state); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunTransactionHooks runs every registered module's transaction-scoped
// hook of kind, in registration order.
func (r *Registry) RunTransactionHooks(kind HookKind, tx *Transaction, state *StateStore) error {
	for _, m := range r.order {
		var hooks []TransactionHookFunc
		switch kind {
		case HookBeforeTransactionApply:
			hooks = m.beforeTransaction
		case HookAfterTransactionApply:
			hooks = m.afterTransaction
		default:
			continue
		}
		for _, fn := range hooks {
			if err := fn(tx, state); err != nil {
				return err
			}
		}
	}
	return nil
}
