package config

import (
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	envVarWebRTCUDPPortMin = "WEBRTC_UDP_PORT_MIN"
	envVarWebRTCUDPPortMax = "WEBRTC_UDP_PORT_MAX"

	envVarWebRTCNAT1To1IPs             = "WEBRTC_NAT_1TO1_IPS"
	envVarWebRTCNAT1To1IPCandidateType = "WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"

	envVarWebRTCUDPListenIP  = "WEBRTC_UDP_LISTEN_IP"
	DefaultWebRTCUDPListenIP = "0.0.0.0"

	flagWebRTCUDPPortMin             = "webrtc-udp-port-min"
	flagWebRTCUDPPortMax             = "webrtc-udp-port-max"
	flagWebRTCNAT1To1IPs             = "webrtc-nat-1to1-ips"
	flagWebRTCNAT1To1IPCandidateType = "webrtc-nat-1to1-ip-candidate-type"
	flagWebRTCUDPListenIP            = "webrtc-udp-listen-ip"
)

// A peer holds a handful of ICE sockets per session; below this many ports
// sessions start failing to gather candidates.
const minWebRTCUDPPortRangeSize = 100

type NAT1To1IPCandidateType string

const (
	NAT1To1CandidateTypeHost  NAT1To1IPCandidateType = "host"
	NAT1To1CandidateTypeSrflx NAT1To1IPCandidateType = "srflx"
)

type UDPPortRange struct {
	Min uint16
	Max uint16
}

// network is the raw form of the pion SettingEngine knobs, filled from env
// and then overridden by flags.
type network struct {
	portMin, portMax uint
	listenIP         string
	nat1To1IPs       string
	candidateType    string
}

func readNetworkEnv(lookup func(string) (string, bool)) (network, error) {
	n := network{
		listenIP:      envOrDefault(lookup, envVarWebRTCUDPListenIP, DefaultWebRTCUDPListenIP),
		nat1To1IPs:    envOrDefault(lookup, envVarWebRTCNAT1To1IPs, ""),
		candidateType: envOrDefault(lookup, envVarWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost)),
	}
	for _, p := range []struct {
		key string
		dst *uint
	}{
		{envVarWebRTCUDPPortMin, &n.portMin},
		{envVarWebRTCUDPPortMax, &n.portMax},
	} {
		raw, ok := lookup(p.key)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 16)
		if err != nil || v == 0 {
			return network{}, fmt.Errorf("invalid %s %q: want a port in 1-65535", p.key, raw)
		}
		*p.dst = uint(v)
	}
	return n, nil
}

func (n *network) bindFlags(fs *flag.FlagSet) {
	fs.UintVar(&n.portMin, flagWebRTCUDPPortMin, n.portMin, "Min UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMin+")")
	fs.UintVar(&n.portMax, flagWebRTCUDPPortMax, n.portMax, "Max UDP port for WebRTC ICE (0 = unset; env "+envVarWebRTCUDPPortMax+")")
	fs.StringVar(&n.listenIP, flagWebRTCUDPListenIP, n.listenIP, "Local listen IP for WebRTC ICE UDP sockets (env "+envVarWebRTCUDPListenIP+")")
	fs.StringVar(&n.nat1To1IPs, flagWebRTCNAT1To1IPs, n.nat1To1IPs, "Comma-separated public IPs to advertise for WebRTC ICE (env "+envVarWebRTCNAT1To1IPs+")")
	fs.StringVar(&n.candidateType, flagWebRTCNAT1To1IPCandidateType, n.candidateType, "Candidate type for NAT 1:1 IPs: host or srflx (env "+envVarWebRTCNAT1To1IPCandidateType+")")
}

// apply validates n and copies the result into cfg.
func (n network) apply(cfg *Config) error {
	if n.portMin != 0 || n.portMax != 0 {
		if n.portMin == 0 || n.portMax == 0 {
			return fmt.Errorf("%s/--%s and %s/--%s must be set together (or both unset)",
				envVarWebRTCUDPPortMin, flagWebRTCUDPPortMin, envVarWebRTCUDPPortMax, flagWebRTCUDPPortMax)
		}
		if n.portMin > 65535 || n.portMax > 65535 {
			return fmt.Errorf("WebRTC UDP port range %d-%d out of range (1-65535)", n.portMin, n.portMax)
		}
		if n.portMin > n.portMax {
			return fmt.Errorf("WebRTC UDP port range min (%d) must be <= max (%d)", n.portMin, n.portMax)
		}
		if size := n.portMax - n.portMin + 1; size < minWebRTCUDPPortRangeSize {
			return fmt.Errorf("WebRTC UDP port range is too small: %d ports (min %d recommended)", size, minWebRTCUDPPortRangeSize)
		}
		cfg.WebRTCUDPPortRange = &UDPPortRange{Min: uint16(n.portMin), Max: uint16(n.portMax)}
	}

	cfg.WebRTCUDPListenIP = net.ParseIP(strings.TrimSpace(n.listenIP))
	if cfg.WebRTCUDPListenIP == nil {
		return fmt.Errorf("invalid %s/--%s %q", envVarWebRTCUDPListenIP, flagWebRTCUDPListenIP, n.listenIP)
	}

	for _, raw := range splitCommaSeparated(n.nat1To1IPs) {
		ip := net.ParseIP(raw)
		if ip == nil {
			return fmt.Errorf("invalid %s/--%s: bad IP %q", envVarWebRTCNAT1To1IPs, flagWebRTCNAT1To1IPs, raw)
		}
		cfg.WebRTCNAT1To1IPs = append(cfg.WebRTCNAT1To1IPs, ip.String())
	}
	if strings.TrimSpace(n.nat1To1IPs) != "" && len(cfg.WebRTCNAT1To1IPs) == 0 {
		return fmt.Errorf("%s/--%s must include at least one IP", envVarWebRTCNAT1To1IPs, flagWebRTCNAT1To1IPs)
	}

	ct := n.candidateType
	if strings.TrimSpace(ct) == "" {
		ct = string(NAT1To1CandidateTypeHost)
	}
	candidateType, err := parseChoice(ct, NAT1To1CandidateTypeHost, NAT1To1CandidateTypeSrflx)
	if err != nil {
		return fmt.Errorf("%s/--%s: %w", envVarWebRTCNAT1To1IPCandidateType, flagWebRTCNAT1To1IPCandidateType, err)
	}
	cfg.WebRTCNAT1To1IPCandidateType = candidateType
	return nil
}

func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.Equal(net.IPv4zero) || ip.Equal(net.IPv6zero)
}

// parseChoice matches raw case-insensitively against choices.
func parseChoice[T ~string](raw string, choices ...T) (T, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	names := make([]string, 0, len(choices))
	for _, c := range choices {
		if v == string(c) {
			return c, nil
		}
		names = append(names, string(c))
	}
	var zero T
	return zero, fmt.Errorf("invalid value %q (expected %s)", raw, strings.Join(names, " or "))
}
