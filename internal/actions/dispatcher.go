// ABOUTME: Closed action enumeration and the dispatcher mapping names to components
// ABOUTME: Wraps every outcome in a uniform Result and queues alerts after toggles

package actions

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/mrwp-agent/internal/debugmode"
	"github.com/2389/mrwp-agent/internal/maintenance"
	"github.com/2389/mrwp-agent/internal/notify"
)

// Name identifies an action.
type Name string

const (
	ToggleMaintenance Name = "toggle_maintenance"
	ResetBypass       Name = "reset_bypass"
	ToggleDebug       Name = "toggle_debug"
	SendBypassEmail   Name = "send_bypass_email"
)

// All lists every action in documentation order.
var All = []Name{ToggleMaintenance, ResetBypass, ToggleDebug, SendBypassEmail}

// Valid reports whether name is a known action.
func Valid(name string) bool {
	for _, n := range All {
		if string(n) == name {
			return true
		}
	}
	return false
}

// InternalErrorMessage is the only detail callers see for unexpected faults.
const InternalErrorMessage = "Internal error"

// Result is the uniform outcome of one action. On the wire state and error
// are always present and null when unset.
type Result struct {
	OK     bool
	Action string
	State  any
	Error  string
	// Internal marks failures that were not the caller's doing.
	Internal bool
}

type wireResult struct {
	OK     bool    `json:"ok"`
	Action string  `json:"action"`
	State  any     `json:"state"`
	Error  *string `json:"error"`
}

// MarshalJSON encodes an empty Error as null.
func (r Result) MarshalJSON() ([]byte, error) {
	w := wireResult{OK: r.OK, Action: r.Action, State: r.State}
	if r.Error != "" {
		w.Error = &r.Error
	}
	return json.Marshal(w)
}

// HTTPStatus maps the result onto a transport status.
func (r Result) HTTPStatus() int {
	switch {
	case r.OK:
		return http.StatusOK
	case r.Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// MaintenanceControl is implemented by *maintenance.Gate.
type MaintenanceControl interface {
	Toggle(ctx context.Context) (maintenance.State, error)
	ResetBypass(ctx context.Context) (maintenance.ResetState, error)
}

// DebugControl is implemented by *debugmode.Controller.
type DebugControl interface {
	Toggle(ctx context.Context) (debugmode.State, error)
}

// BypassMailer is implemented by *notify.Service.
type BypassMailer interface {
	SendBypassEmail(ctx context.Context) (notify.BypassEmailState, error)
}

// AlertQueue is implemented by *notify.Alerter.
type AlertQueue interface {
	Enqueue(alert notify.Alert) bool
}

// reasoner is satisfied by in-band failures such as *notify.Failure.
type reasoner interface {
	Reason() string
}

// Dispatcher routes action names to their owning components.
type Dispatcher struct {
	maintenance MaintenanceControl
	debug       DebugControl
	mail        BypassMailer
	alerts      AlertQueue
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher. alerts may be nil.
func NewDispatcher(m MaintenanceControl, d DebugControl, mail BypassMailer, alerts AlertQueue, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		maintenance: m,
		debug:       d,
		mail:        mail,
		alerts:      alerts,
		logger:      logger.With("component", "actions"),
	}
}

// Dispatch runs the named action.
func (d *Dispatcher) Dispatch(ctx context.Context, name string) Result {
	var (
		state any
		err   error
	)
	switch Name(name) {
	case ToggleMaintenance:
		var st maintenance.State
		st, err = d.maintenance.Toggle(ctx)
		if err == nil {
			d.alert("maintenance", "Maintenance mode "+onOff(st.MaintenanceEnabled))
		}
		state = st
	case ResetBypass:
		state, err = d.maintenance.ResetBypass(ctx)
	case ToggleDebug:
		var st debugmode.State
		st, err = d.debug.Toggle(ctx)
		if err == nil {
			d.alert("debug", "Debug mode "+onOff(st.DebugEnabled))
		}
		state = st
	case SendBypassEmail:
		state, err = d.mail.SendBypassEmail(ctx)
	default:
		d.logger.Warn("unknown action", "action", name)
		return Result{OK: false, Action: name, Error: "Unknown action: " + name}
	}

	if err != nil {
		return d.failure(name, err)
	}
	d.logger.Info("action completed", "action", name)
	return Result{OK: true, Action: name, State: state}
}

func (d *Dispatcher) failure(name string, err error) Result {
	var r reasoner
	if errors.As(err, &r) {
		d.logger.Warn("action failed", "action", name, "reason", r.Reason(), "error", err)
		return Result{OK: false, Action: name, Error: r.Reason()}
	}
	d.logger.Error("action failed unexpectedly", "action", name, "error", err)
	return Result{OK: false, Action: name, Error: InternalErrorMessage, Internal: true}
}

func (d *Dispatcher) alert(kind, message string) {
	if d.alerts == nil {
		return
	}
	d.alerts.Enqueue(notify.Alert{Type: kind, Message: message})
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
