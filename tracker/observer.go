package tracker

import (
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
)

// Observer consumes what the tracker emits. Calls for transactions are serialized; lifecycle calls come from the
// stream goroutines and may overlap with them.
type Observer interface {
	OnConnected()
	OnDisconnected(reason error)
	OnTransaction(tx *model.EnrichedTransaction)
	OnError(kind model.ErrorKind, err error)
	OnReconnectExhausted()
}

// ObserverFuncs adapts functions to an Observer. Nil fields are ignored.
type ObserverFuncs struct {
	Connected          func()
	Disconnected       func(reason error)
	Transaction        func(tx *model.EnrichedTransaction)
	Error              func(kind model.ErrorKind, err error)
	ReconnectExhausted func()
}

func (o ObserverFuncs) OnConnected() {
	if o.Connected != nil {
		o.Connected()
	}
}

func (o ObserverFuncs) OnDisconnected(reason error) {
	if o.Disconnected != nil {
		o.Disconnected(reason)
	}
}

func (o ObserverFuncs) OnTransaction(tx *model.EnrichedTransaction) {
	if o.Transaction != nil {
		o.Transaction(tx)
	}
}

func (o ObserverFuncs) OnError(kind model.ErrorKind, err error) {
	if o.Error != nil {
		o.Error(kind, err)
	}
}

func (o ObserverFuncs) OnReconnectExhausted() {
	if o.ReconnectExhausted != nil {
		o.ReconnectExhausted()
	}
}

type observerEntry struct {
	id int
	o  Observer
}

// Observe registers o and returns the function that unregisters it.
func (t *Tracker) Observe(o Observer) (cancel func()) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()

	t.obsID++
	id := t.obsID
	t.observers = append(t.observers, observerEntry{id: id, o: o})

	return func() {
		t.obsMu.Lock()
		defer t.obsMu.Unlock()

		for i, e := range t.observers {
			if e.id == id {
				t.observers = append(t.observers[:i:i], t.observers[i+1:]...)

				return
			}
		}
	}
}

// notify calls f for every observer. A panicking observer is logged and does not affect the others.
func (t *Tracker) notify(what string, f func(Observer)) {
	t.obsMu.RLock()
	obs := make([]observerEntry, len(t.observers))
	copy(obs, t.observers)
	t.obsMu.RUnlock()

	for _, e := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("[%s] observer %d panicked on %s: %v", t.cfg.Net, e.id, what, r)
				}
			}()

			f(e.o)
		}()
	}
}
