// Package discovery advertises and finds liveconn peers over mDNS/DNS-SD.
//
// Peers register the _liveconn._tcp service. TXT records carry the
// heartbeat interval so a client can check liveness with the same
// interval as the peer sends heartbeats:
//
//	hb=<seconds>   heartbeat interval (required)
//	ver=<version>  protocol version
//	tls=1          the peer expects TLS
package discovery
