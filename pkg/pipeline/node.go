package pipeline

import "strconv"

// Handler identifies the kind of work a node performs.
type Handler string

const (
	HandlerStart       Handler = "start"
	HandlerExit        Handler = "exit"
	HandlerCodergen    Handler = "codergen"
	HandlerTool        Handler = "tool"
	HandlerHuman       Handler = "wait.human"
	HandlerConditional Handler = "conditional"
	HandlerParallel    Handler = "parallel"
)

// KnownHandlers lists every handler kind the engine can execute.
var KnownHandlers = []Handler{
	HandlerStart,
	HandlerExit,
	HandlerCodergen,
	HandlerTool,
	HandlerHuman,
	HandlerConditional,
	HandlerParallel,
}

// shapeHandlers maps DOT node shapes to handler kinds for pipelines that
// declare nodes by shape instead of an explicit handler attribute.
var shapeHandlers = map[string]Handler{
	"Mdiamond":      HandlerStart,
	"Msquare":       HandlerExit,
	"box":           HandlerCodergen,
	"ellipse":       HandlerTool,
	"hexagon":       HandlerHuman,
	"diamond":       HandlerConditional,
	"parallelogram": HandlerParallel,
}

// HandlerForShape resolves a DOT shape to its handler kind.
func HandlerForShape(shape string) (Handler, bool) {
	h, ok := shapeHandlers[shape]
	return h, ok
}

// Status is the lifecycle position of a node.
type Status string

const (
	StatusPending      Status = "pending"
	StatusActive       Status = "active"
	StatusImplComplete Status = "impl_complete"
	StatusValidated    Status = "validated"
	StatusFailed       Status = "failed"
)

// Terminal reports whether the status admits no further transitions other
// than the bounded failed -> active retry edge.
func (s Status) Terminal() bool {
	return s == StatusValidated || s == StatusFailed
}

// DefaultMaxRetries applies when a node declares no max_retries attribute.
const DefaultMaxRetries = 3

// Node represents a single vertex in the pipeline graph.
type Node struct {
	ID         string
	Handler    Handler
	Status     Status
	BeadID     string
	WorkerType string
	Acceptance string
	PromiseAC  string
	RetryCount int
	MaxRetries int

	// Extra preserves DOT attributes the engine has no field for, so that
	// serialization loses nothing.
	Extra map[string]string
}

// Attr returns the value of a node attribute by its DOT key, covering both
// typed fields and preserved extras.
func (n *Node) Attr(key string) (string, bool) {
	switch key {
	case "handler":
		return string(n.Handler), n.Handler != ""
	case "status":
		return string(n.Status), n.Status != ""
	case "bead_id":
		return n.BeadID, n.BeadID != ""
	case "worker_type":
		return n.WorkerType, n.WorkerType != ""
	case "acceptance":
		return n.Acceptance, n.Acceptance != ""
	case "promise_ac":
		return n.PromiseAC, n.PromiseAC != ""
	case "retry_count":
		return strconv.Itoa(n.RetryCount), n.RetryCount != 0
	case "max_retries":
		return strconv.Itoa(n.MaxRetries), n.MaxRetries != 0
	}
	v, ok := n.Extra[key]
	return v, ok
}

// SetAttr assigns a DOT attribute to its typed field, or to Extra when the
// key is not one the engine models.
func (n *Node) SetAttr(key, value string) error {
	switch key {
	case "handler":
		n.Handler = Handler(value)
	case "status":
		n.Status = Status(value)
	case "bead_id":
		n.BeadID = value
	case "worker_type":
		n.WorkerType = value
	case "acceptance":
		n.Acceptance = value
	case "promise_ac":
		n.PromiseAC = value
	case "retry_count":
		i, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		n.RetryCount = i
	case "max_retries":
		i, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		n.MaxRetries = i
	default:
		if n.Extra == nil {
			n.Extra = make(map[string]string)
		}
		n.Extra[key] = value
	}
	return nil
}

// RetryBudget returns the effective retry ceiling for the node.
func (n *Node) RetryBudget() int {
	if n.MaxRetries > 0 {
		return n.MaxRetries
	}
	return DefaultMaxRetries
}

// IsAcceptanceTest reports whether the node validates another node's work.
// AT nodes declare the functional node they cover via promise_ac.
func (n *Node) IsAcceptanceTest() bool {
	return n.PromiseAC != ""
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	if n.Extra != nil {
		c.Extra = make(map[string]string, len(n.Extra))
		for k, v := range n.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}
