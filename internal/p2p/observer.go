package p2p

import "sync"

// Observer receives session events for one remote peer. Callbacks run on the
// channel's event queue, never on the caller's goroutine.
type Observer interface {
	OnInvited(remoteID string)
	OnAccepted(remoteID string)
	OnDenied(remoteID string)
	OnStarted(remoteID string)
	OnStopped(remoteID string)
	OnData(remoteID, message string)
	OnStreamAdded(stream *RemoteStream)
	OnStreamRemoved(stream *RemoteStream)
}

// NopObserver implements Observer with no-ops so implementations only need
// to override the callbacks they care about.
type NopObserver struct{}

func (NopObserver) OnInvited(string)              {}
func (NopObserver) OnAccepted(string)             {}
func (NopObserver) OnDenied(string)               {}
func (NopObserver) OnStarted(string)              {}
func (NopObserver) OnStopped(string)              {}
func (NopObserver) OnData(string, string)         {}
func (NopObserver) OnStreamAdded(*RemoteStream)   {}
func (NopObserver) OnStreamRemoved(*RemoteStream) {}

type observerList struct {
	mu        sync.Mutex
	observers []Observer
}

func (l *observerList) add(o Observer) {
	if o == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.observers {
		if existing == o {
			return
		}
	}
	l.observers = append(l.observers, o)
}

func (l *observerList) remove(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.observers {
		if existing == o {
			l.observers = append(l.observers[:i:i], l.observers[i+1:]...)
			return
		}
	}
}

func (l *observerList) snapshot() []Observer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Observer, len(l.observers))
	copy(out, l.observers)
	return out
}
