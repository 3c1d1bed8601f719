package ir

// Handler kinds for declarative events.
const (
	KindDB = "db"
	KindFx = "fx"
)

// Path op names.
const (
	OpSet    = "set"
	OpInc    = "inc"
	OpAppend = "append"
	OpDelete = "delete"
)

// Interceptor names a program may list on an event.
const (
	InterceptorDebug  = "debug"
	InterceptorTrimV  = "trim-v"
	InterceptorUnwrap = "unwrap"
)

// KnownInterceptors lists every interceptor name a program may use.
var KnownInterceptors = []string{InterceptorDebug, InterceptorTrimV, InterceptorUnwrap}

// Program is a compiled application description.
type Program struct {
	Name   string               `json:"name"`
	DB     IRValue              `json:"db"`
	Init   []Event              `json:"init,omitempty"`
	Events map[string]EventSpec `json:"events"`
	Subs   map[string]SubSpec   `json:"subs,omitempty"`
}

// EventSpec declares one event handler.
// A handler is either a list of path ops or a Lua script; Fx is merged
// into the handler's effects.
type EventSpec struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Ops          []Op     `json:"ops,omitempty"`
	Lua          string   `json:"lua,omitempty"`
	Fx           IRObject `json:"fx,omitempty"`
	Interceptors []string `json:"interceptors,omitempty"`
}

// Op is a single path operation on app-db.
// Paths use gjson dot syntax. Arg, when set, takes the operand from the
// event vector at that index, as the handler sees it, instead of Value.
// By defaults to 1 for inc.
type Op struct {
	Op    string  `json:"op"`
	Path  string  `json:"path"`
	Value IRValue `json:"value,omitempty"`
	By    int64   `json:"by,omitempty"`
	Arg   *int    `json:"arg,omitempty"`
}

// SubSpec declares a subscription that reads a path from app-db.
type SubSpec struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}
