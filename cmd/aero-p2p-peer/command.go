package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-p2p-channel/internal/p2p"
)

type commandKind int

const (
	cmdSend commandKind = iota
	cmdTarget
	cmdInvite
	cmdAccept
	cmdDeny
	cmdStop
	cmdPublish
	cmdUnpublish
	cmdStats
	cmdPeers
	cmdHelp
	cmdQuit
)

type command struct {
	kind commandKind

	// remoteID is empty when the command applies to the current target.
	remoteID string
	text     string

	streamID   string
	streamKind p2p.StreamKind
	audio      bool
	video      bool
}

var errEmptyLine = errors.New("empty line")

const helpText = `commands:
  <text>                     send text to the current peer
  /to <peer>                 switch the current peer
  /invite [peer]             invite a peer (and make it current)
  /accept [peer]             accept an invitation
  /deny [peer]               deny an invitation
  /stop [peer]               stop the session
  /publish camera|screen [audio] [video]
                             publish a stream (both tracks when none named)
  /unpublish <stream-id>     unpublish a stream
  /stats [peer]              print connection stats
  /peers                     list known peers
  /quit                      stop every session and exit`

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmptyLine
	}
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		// "//text" sends "/text".
		return command{kind: cmdSend, text: strings.TrimPrefix(line, "/")}, nil
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	optionalPeer := func(kind commandKind) (command, error) {
		switch len(args) {
		case 0:
			return command{kind: kind}, nil
		case 1:
			return command{kind: kind, remoteID: args[0]}, nil
		default:
			return command{}, fmt.Errorf("%s takes at most one peer id", name)
		}
	}

	switch name {
	case "/to":
		if len(args) != 1 {
			return command{}, errors.New("/to takes exactly one peer id")
		}
		return command{kind: cmdTarget, remoteID: args[0]}, nil
	case "/invite":
		return optionalPeer(cmdInvite)
	case "/accept":
		return optionalPeer(cmdAccept)
	case "/deny":
		return optionalPeer(cmdDeny)
	case "/stop":
		return optionalPeer(cmdStop)
	case "/stats":
		return optionalPeer(cmdStats)
	case "/publish":
		return parsePublish(args)
	case "/unpublish":
		if len(args) != 1 {
			return command{}, errors.New("/unpublish takes exactly one stream id")
		}
		return command{kind: cmdUnpublish, streamID: args[0]}, nil
	case "/peers":
		return command{kind: cmdPeers}, nil
	case "/help":
		return command{kind: cmdHelp}, nil
	case "/quit", "/exit":
		return command{kind: cmdQuit}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q (try /help)", name)
	}
}

func parsePublish(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, errors.New("/publish needs a kind: camera or screen")
	}
	c := command{kind: cmdPublish}
	switch args[0] {
	case "camera":
		c.streamKind = p2p.StreamKindCamera
	case "screen":
		c.streamKind = p2p.StreamKindScreen
	default:
		return command{}, fmt.Errorf("unknown stream kind %q (want camera or screen)", args[0])
	}
	for _, a := range args[1:] {
		switch a {
		case "audio":
			c.audio = true
		case "video":
			c.video = true
		default:
			return command{}, fmt.Errorf("unknown track %q (want audio or video)", a)
		}
	}
	if !c.audio && !c.video {
		c.audio, c.video = true, true
	}
	return c, nil
}
