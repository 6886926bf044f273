package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "AERO_P2P_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_P2P_STUN_URLS"
	envTurnURLs       = "AERO_P2P_TURN_URLS"
	envTurnUsername   = "AERO_P2P_TURN_USERNAME"
	envTurnCredential = "AERO_P2P_TURN_CREDENTIAL"
)

// iceSources are the raw ICE settings. JSON, when set, replaces the
// convenience STUN/TURN variables entirely.
type iceSources struct {
	json           string
	stunURLs       string
	turnURLs       string
	turnUsername   string
	turnCredential string

	// bareTURN lets TURN entries omit credentials; the relay fills them in
	// per request when TURN REST is enabled.
	bareTURN bool
}

func (src iceSources) servers() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(src.json); raw != "" {
		servers, err := decodeICEServers(raw, src.bareTURN)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	var servers []webrtc.ICEServer
	if urls := splitCommaSeparated(src.stunURLs); len(urls) > 0 {
		s := webrtc.ICEServer{URLs: urls}
		if err := checkICEServer(s, src.bareTURN); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, s)
	}
	if urls := splitCommaSeparated(src.turnURLs); len(urls) > 0 {
		s := webrtc.ICEServer{URLs: urls, Username: strings.TrimSpace(src.turnUsername)}
		if cred := strings.TrimSpace(src.turnCredential); cred != "" {
			s.Credential = cred
		}
		if !src.bareTURN && (s.Username == "" || s.Credential == nil) {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", envTurnUsername, envTurnCredential, envTurnURLs)
		}
		if err := checkICEServer(s, src.bareTURN); err != nil {
			return nil, fmt.Errorf("%s: %w", envTurnURLs, err)
		}
		servers = append(servers, s)
	}
	return servers, nil
}

// ParseICEServersJSON parses a browser-style RTCIceServer list. Both sides of
// a session dial TURN themselves, so TURN entries must carry credentials.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	return decodeICEServers(raw, false)
}

// ParseICEServersFromConvenienceEnv builds the list from comma-separated STUN
// and TURN URLs sharing one TURN username/credential pair.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	return iceSources{
		stunURLs:       stunURLs,
		turnURLs:       turnURLs,
		turnUsername:   turnUsername,
		turnCredential: turnCredential,
	}.servers()
}

// urlList accepts both "urls": "stun:..." and "urls": ["stun:...", ...].
type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

func decodeICEServers(raw string, bareTURN bool) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       urlList `json:"urls"`
		Username   string  `json:"username,omitempty"`
		Credential string  `json:"credential,omitempty"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		s := webrtc.ICEServer{
			URLs:     splitCommaSeparated(strings.Join(e.URLs, ",")),
			Username: strings.TrimSpace(e.Username),
		}
		if strings.TrimSpace(e.Credential) != "" {
			s.Credential = e.Credential
		}
		if err := checkICEServer(s, bareTURN); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func checkICEServer(s webrtc.ICEServer, bareTURN bool) error {
	if len(s.URLs) == 0 {
		return errors.New("missing urls")
	}
	turn := false
	for _, u := range s.URLs {
		scheme, _, _ := strings.Cut(u, ":")
		switch scheme {
		case "stun", "stuns":
		case "turn", "turns":
			turn = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}
	if !turn || bareTURN {
		return nil
	}
	if s.Username == "" {
		return errors.New("turn urls require username")
	}
	if cred, _ := s.Credential.(string); strings.TrimSpace(cred) == "" {
		return errors.New("turn urls require credential")
	}
	return nil
}
