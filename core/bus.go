package core

// bus.go implements the in-process event/RPC bus of §4.10: a publish/
// subscribe event router plus a JSON-RPC-shaped invoke path for
// synchronous module-to-module and module-to-transport calls. §9's Open
// Question (in-process vs IPC) is resolved in-process by default; invoke
// is defined against the same envelope an IPC transport would use, so a
// socket-backed implementation can be swapped in behind ChannelHandler
// without changing callers. Generalizes the teacher's domain-module
// dispatch registries into one shared bus, instrumented with
// prometheus/client_golang the way the rest of the corpus instruments
// long-lived services.

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// JSON-RPC 2.0 error codes (§4.10).
const (
	RPCErrParseError     = -32700
	RPCErrInvalidRequest = -32600
	RPCErrMethodNotFound = -32601
	RPCErrInvalidParams  = -32602
	RPCErrInternal       = -32603
)

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// RPCRequest is the JSON-RPC 2.0 envelope used by invoke.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// RPCResponse is the JSON-RPC 2.0 result/error envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// ChannelHandler answers one "channel_method" RPC call.
type ChannelHandler func(method string, params json.RawMessage) (interface{}, *RPCError)

// Bus is the process-wide event/RPC router.
type Bus struct {
	mu          sync.RWMutex
	channels    map[string]ChannelHandler
	subscribers map[string][]subscription

	publishedTotal *prometheus.CounterVec
	invokedTotal   *prometheus.CounterVec
}

type subscription struct {
	id   uint64
	once bool
	fn   func(payload interface{})
}

// NewBus constructs an empty Bus with its prometheus counters registered
// against registry (pass prometheus.DefaultRegisterer in production,
// a fresh prometheus.NewRegistry() in tests).
func NewBus(registry prometheus.Registerer) *Bus {
	b := &Bus{
		channels:    make(map[string]ChannelHandler),
		subscribers: make(map[string][]subscription),
		publishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dpos_bus_events_published_total",
			Help: "Number of events published on the in-process bus, by event name.",
		}, []string{"event"}),
		invokedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dpos_bus_rpc_invocations_total",
			Help: "Number of RPC invocations handled by the bus, by channel and outcome.",
		}, []string{"channel", "outcome"}),
	}
	if registry != nil {
		registry.MustRegister(b.publishedTotal, b.invokedTotal)
	}
	return b
}

// RegisterChannel binds handler under channel, rejecting a colliding name.
func (b *Bus) RegisterChannel(channel string, handler ChannelHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.channels[channel]; ok {
		return &DuplicateError{Kind: "bus channel", Name: channel}
	}
	b.channels[channel] = handler
	return nil
}

// Invoke dispatches req.Method, formatted "channel_action", to its
// registered ChannelHandler and returns a JSON-RPC response envelope.
// A future IPC transport would deserialize req off a socket and call this
// same method, so the in-process and out-of-process paths share one
// dispatch implementation (§9 decision).
func (b *Bus) Invoke(req RPCRequest) RPCResponse {
	resp := RPCResponse{JSONRPC: "2.0", ID: req.ID}
	if req.JSONRPC != "2.0" || req.Method == "" {
		resp.Error = &RPCError{Code: RPCErrInvalidRequest, Message: "invalid request"}
		return resp
	}

	channel, action, ok := splitMethod(req.Method)
	if !ok {
		resp.Error = &RPCError{Code: RPCErrMethodNotFound, Message: "method not found: " + req.Method}
		return resp
	}

	b.mu.RLock()
	handler, ok := b.channels[channel]
	b.mu.RUnlock()
	if !ok {
		b.invokedTotal.WithLabelValues(channel, "not_found").Inc()
		resp.Error = &RPCError{Code: RPCErrMethodNotFound, Message: "unknown channel: " + channel}
		return resp
	}

	result, rpcErr := handler(action, req.Params)
	if rpcErr != nil {
		b.invokedTotal.WithLabelValues(channel, "error").Inc()
		resp.Error = rpcErr
		return resp
	}
	b.invokedTotal.WithLabelValues(channel, "ok").Inc()
	resp.Result = result
	return resp
}

func splitMethod(method string) (channel, action string, ok bool) {
	for i := 0; i < len(method); i++ {
		if method[i] == '_' {
			return method[:i], method[i+1:], true
		}
	}
	return "", "", false
}

// Publish emits an event to every subscriber registered for name,
// synchronously and in subscription order; once-only subscribers are
// unregistered before delivery starts. Safe to call with no subscribers
// present.
func (b *Bus) Publish(name string, payload interface{}) {
	b.publishedTotal.WithLabelValues(name).Inc()

	b.mu.Lock()
	subs := append([]subscription(nil), b.subscribers[name]...)
	var remaining []subscription
	for _, s := range subs {
		if !s.once {
			remaining = append(remaining, s)
		}
	}
	b.subscribers[name] = remaining
	b.mu.Unlock()

	for _, s := range subs {
		func(s subscription) {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("event", name).WithField("panic", r).Error("bus: subscriber panicked")
				}
			}()
			s.fn(payload)
		}(s)
	}
}

var subIDCounter uint64
var subIDMu sync.Mutex

func nextSubID() uint64 {
	subIDMu.Lock()
	defer subIDMu.Unlock()
	subIDCounter++
	return subIDCounter
}

// Subscribe registers fn to run on every future publish of name, until
// Unsubscribe is called with the returned id.
func (b *Bus) Subscribe(name string, fn func(payload interface{})) uint64 {
	id := nextSubID()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[name] = append(b.subscribers[name], subscription{id: id, fn: fn})
	return id
}

// Once registers fn to run on only the next publish of name.
func (b *Bus) Once(name string, fn func(payload interface{})) uint64 {
	id := nextSubID()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[name] = append(b.subscribers[name], subscription{id: id, once: true, fn: fn})
	return id
}

// Unsubscribe removes a subscription previously returned by Subscribe or
// Once.
func (b *Bus) Unsubscribe(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[name]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[name] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
