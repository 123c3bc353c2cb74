package server

import "sync/atomic"

// ListenerStatus tracks whether each DNS transport is currently accepting
// traffic, so the admin API's health endpoint can report per-transport
// liveness without reaching into the listeners themselves.
type ListenerStatus struct {
	udp atomic.Bool
	tcp atomic.Bool
	dot atomic.Bool
	doh atomic.Bool
}

func (s *ListenerStatus) SetUDP(up bool) { s.udp.Store(up) }
func (s *ListenerStatus) SetTCP(up bool) { s.tcp.Store(up) }
func (s *ListenerStatus) SetDoT(up bool) { s.dot.Store(up) }
func (s *ListenerStatus) SetDoH(up bool) { s.doh.Store(up) }

// ListenerSnapshot is a point-in-time read of ListenerStatus.
type ListenerSnapshot struct {
	UDP bool
	TCP bool
	DoT bool
	DoH bool
}

// Snapshot returns the current per-transport liveness. A nil receiver
// reports everything down, matching DNSStats' nil-safe idiom.
func (s *ListenerStatus) Snapshot() ListenerSnapshot {
	if s == nil {
		return ListenerSnapshot{}
	}
	return ListenerSnapshot{
		UDP: s.udp.Load(),
		TCP: s.tcp.Load(),
		DoT: s.dot.Load(),
		DoH: s.doh.Load(),
	}
}
