// Package observer owns the lifecycle of a TexTronics manager session: it
// requests host capabilities, subscribes to update notifications, starts and
// stops the worker, and dispatches each update to a handler.
//
// The observer is a two state machine. Notifications that arrive while it is
// inactive, including ones still in flight when Deactivate runs, are ignored.
package observer

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/suprememoocow/textronics-monitor/pkg/channel"
	"github.com/suprememoocow/textronics-monitor/pkg/permission"
	"github.com/suprememoocow/textronics-monitor/pkg/types"
)

type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// Reasons passed to Config.OnIgnored.
const (
	ReasonInactive = "inactive"
	ReasonInvalid  = "invalid"
	ReasonNull     = "null_update"
	ReasonUnknown  = "unknown_update"
)

// Worker is the background manager the observer controls. Both calls are
// fire-and-forget and must be idempotent.
type Worker interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
}

type Handler func(n types.Notification)

func noop(types.Notification) {}

type Config struct {
	Channel     *channel.Broadcaster
	Worker      Worker
	Permissions permission.Requester
	Logger      logrus.FieldLogger
	// Buffer is the subscription buffer size; zero uses the channel default.
	Buffer      int
	// OnIgnored, if set, is called for every dropped notification.
	OnIgnored   func(reason string)
}

type Observer struct {
	ch          *channel.Broadcaster
	worker      Worker
	permissions permission.Requester
	log         logrus.FieldLogger
	buffer      int
	onIgnored   func(reason string)

	mu         sync.Mutex
	state      State
	handlers   map[types.UpdateEvent]Handler
	sub        *channel.Subscription
	done       chan struct{}
	permResult *permission.Result
}

func New(cfg Config) *Observer {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	o := &Observer{
		ch:          cfg.Channel,
		worker:      cfg.Worker,
		permissions: cfg.Permissions,
		log:         log,
		buffer:      cfg.Buffer,
		onIgnored:   cfg.OnIgnored,
		handlers:    make(map[types.UpdateEvent]Handler, len(types.UpdateEvents)),
	}
	for _, u := range types.UpdateEvents {
		o.handlers[u] = noop
	}
	return o
}

// SetHandler replaces the handler for a known update. A nil handler
// restores the no-op default.
func (o *Observer) SetHandler(u types.UpdateEvent, h Handler) {
	if !u.Known() {
		o.log.WithField("update", u.String()).Warn("ignoring handler for unknown update")
		return
	}
	if h == nil {
		h = noop
	}
	o.mu.Lock()
	o.handlers[u] = h
	o.mu.Unlock()
}

func (o *Observer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Activate requests the required capabilities, subscribes to updates and
// starts the worker. Activating an active observer does nothing.
func (o *Observer) Activate(ctx context.Context) {
	o.mu.Lock()
	if o.state == Active {
		o.mu.Unlock()
		o.log.Warn("observer already active")
		return
	}
	o.state = Active
	o.mu.Unlock()

	if o.permissions != nil {
		o.permissions.Request(permission.Required, o.OnPermissionsResult)
	}

	o.mu.Lock()
	if o.state != Active {
		// Deactivated while the request was being made.
		o.mu.Unlock()
		return
	}
	var sub *channel.Subscription
	if o.ch != nil {
		sub = o.ch.Subscribe(channel.UpdateCategory, o.buffer)
	}
	o.sub = sub
	done := make(chan struct{})
	o.done = done
	o.mu.Unlock()

	go o.dispatch(sub, done)

	if o.worker != nil {
		o.worker.Start(ctx)
	}
	o.log.Info("observer activated")
}

// Deactivate unsubscribes, stops the worker and waits for the dispatch loop
// to finish. It must not be called from a handler.
func (o *Observer) Deactivate(ctx context.Context) {
	o.mu.Lock()
	if o.state == Inactive {
		o.mu.Unlock()
		o.log.Debug("observer already inactive")
		return
	}
	o.state = Inactive
	sub, done := o.sub, o.done
	o.sub, o.done = nil, nil
	o.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if o.worker != nil {
		o.worker.Stop(ctx)
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			o.log.WithError(ctx.Err()).Warn("timed out waiting for dispatch loop")
		}
	}
	o.log.Info("observer deactivated")
}

func (o *Observer) dispatch(sub *channel.Subscription, done chan struct{}) {
	defer close(done)
	if sub == nil {
		return
	}
	for n := range sub.C() {
		o.HandleNotification(n)
	}
}

// HandleNotification validates n and runs the matching handler. Invalid,
// null and unknown updates are logged once at warning level and dropped.
func (o *Observer) HandleNotification(n types.Notification) {
	o.mu.Lock()
	state := o.state
	h, ok := o.handlers[n.Update]
	o.mu.Unlock()

	if state != Active {
		o.log.WithField("update", n.Update.String()).Debug("observer inactive, ignoring update")
		o.ignored(ReasonInactive)
		return
	}

	if !n.HasDevice || !n.HasUpdate {
		o.log.Warn("Invalid Update Received")
		o.ignored(ReasonInvalid)
		return
	}

	if n.Update == types.UpdateNone {
		o.log.Warn("NULL Update Received")
		o.ignored(ReasonNull)
		return
	}

	if !ok {
		o.log.WithField("update", n.Update.String()).Warn("Unknown Update Received")
		o.ignored(ReasonUnknown)
		return
	}

	h(n)
}

func (o *Observer) ignored(reason string) {
	if o.onIgnored != nil {
		o.onIgnored(reason)
	}
}

// OnPermissionsResult records the outcome of the capability request.
// Denied capabilities are logged and nothing else happens.
func (o *Observer) OnPermissionsResult(res permission.Result) {
	o.mu.Lock()
	o.permResult = &res
	o.mu.Unlock()

	if res.AllGranted() {
		o.log.WithField("granted", res.Granted).Debug("all permissions granted")
		return
	}
	o.log.WithFields(logrus.Fields{
		"granted": res.Granted,
		"denied":  res.Denied,
	}).Warn("permissions denied")
}

// Permissions returns the last capability result, if one has arrived.
func (o *Observer) Permissions() (permission.Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.permResult == nil {
		return permission.Result{}, false
	}
	return *o.permResult, true
}
