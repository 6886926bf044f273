package p2p

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

const (
	eventInvite   = "invite"
	eventInvited  = "invited"
	eventAccept   = "accept"
	eventAccepted = "accepted"
	eventConnect  = "connect"
	eventReset    = "reset"
)

func newSessionFSM(log *slog.Logger) *fsm.FSM {
	return fsm.NewFSM(
		string(StateReady),
		fsm.Events{
			{Name: eventInvite, Src: []string{string(StateReady)}, Dst: string(StateOffered)},
			{Name: eventInvited, Src: []string{string(StateReady)}, Dst: string(StatePending)},
			{Name: eventAccept, Src: []string{string(StatePending)}, Dst: string(StateMatched)},
			{Name: eventAccepted, Src: []string{string(StateOffered)}, Dst: string(StateMatched)},
			{Name: eventConnect, Src: []string{string(StateMatched)}, Dst: string(StateConnected)},
			{
				Name: eventReset,
				Src: []string{
					string(StateOffered),
					string(StatePending),
					string(StateMatched),
					string(StateConnected),
				},
				Dst: string(StateReady),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug("session state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
}

func (c *Channel) current() SessionState {
	return SessionState(c.state.Current())
}

func (c *Channel) transition(event string) error {
	return c.state.Event(context.Background(), event)
}
