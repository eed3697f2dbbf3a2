package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TXTRecordMap holds TXT records as key/value pairs.
type TXTRecordMap map[string]string

// EncodePeerTXT builds the TXT records for a peer.
func EncodePeerTXT(info *PeerInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyHeartbeat: strconv.Itoa(info.HeartbeatInterval),
	}
	if info.Version != "" {
		txt[TXTKeyVersion] = info.Version
	}
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}
	return txt
}

// DecodePeerTXT parses a peer's TXT records. The heartbeat interval is
// required and must be positive.
func DecodePeerTXT(txt TXTRecordMap) (*PeerInfo, error) {
	hb, ok := txt[TXTKeyHeartbeat]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTXT, TXTKeyHeartbeat)
	}
	interval, err := strconv.Atoi(hb)
	if err != nil || interval < 1 {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXT, TXTKeyHeartbeat, hb)
	}

	return &PeerInfo{
		HeartbeatInterval: interval,
		Version:           txt[TXTKeyVersion],
		TLS:               txt[TXTKeyTLS] == "1",
	}, nil
}

// TXTRecordsToStrings converts records to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings. A bare key maps to "".
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		key, value, _ := strings.Cut(s, "=")
		if key != "" {
			txt[key] = value
		}
	}
	return txt
}

// ValidateInstanceName checks that name fits in a DNS label.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidInstanceName)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
