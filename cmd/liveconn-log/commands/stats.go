package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/liveconn/liveconn-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Connections       map[string]*ConnectionStats
	Errors            int
	LivenessFailures  int
	Start             time.Time
	End               time.Time
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen           time.Time
	LastSeen            time.Time
	Events              int
	RemoteAddr          string
	HeartbeatsIn        int
	HeartbeatsOut       int
	Messages            int
	LivenessFailures    int
	LastHeartbeatIn     time.Time
	LongestHeartbeatGap time.Duration
	FinalState          string
}

// Collect reads every event matching filter from path.
func Collect(path string, filter log.Filter) (*Stats, error) {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Connections:       make(map[string]*ConnectionStats),
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.Start.IsZero() || event.Timestamp.Before(s.Start) {
		s.Start = event.Timestamp
	}
	if event.Timestamp.After(s.End) {
		s.End = event.Timestamp
	}

	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
		}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if conn.RemoteAddr == "" {
		conn.RemoteAddr = event.RemoteAddr
	}

	switch {
	case event.ControlMsg != nil && event.ControlMsg.Type == log.ControlMsgHeartbeat:
		if event.Direction == log.DirectionOut {
			conn.HeartbeatsOut++
			break
		}
		conn.HeartbeatsIn++
		if !conn.LastHeartbeatIn.IsZero() {
			if gap := event.Timestamp.Sub(conn.LastHeartbeatIn); gap > conn.LongestHeartbeatGap {
				conn.LongestHeartbeatGap = gap
			}
		}
		conn.LastHeartbeatIn = event.Timestamp
	case event.Message != nil:
		conn.Messages++
	case event.StateChange != nil && event.StateChange.Entity == log.StateEntityConnection:
		conn.FinalState = event.StateChange.NewState
	case event.Error != nil:
		s.Errors++
		if event.Error.Layer == log.LayerLiveness {
			s.LivenessFailures++
			conn.LivenessFailures++
		}
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, filter log.Filter, w io.Writer) error {
	stats, err := Collect(path, filter)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== liveconn Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.Start.Format(time.RFC3339),
			stats.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.End.Sub(stats.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerLiveness} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			cs := c.stats
			duration := cs.LastSeen.Sub(cs.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenConnID(c.id), cs.Events, duration)
			if cs.RemoteAddr != "" {
				fmt.Fprintf(w, "           Remote: %s\n", cs.RemoteAddr)
			}
			fmt.Fprintf(w, "           Heartbeats: %d in, %d out\n", cs.HeartbeatsIn, cs.HeartbeatsOut)
			if cs.LongestHeartbeatGap > 0 {
				fmt.Fprintf(w, "           Longest gap: %s\n", cs.LongestHeartbeatGap.Round(time.Millisecond))
			}
			if cs.Messages > 0 {
				fmt.Fprintf(w, "           Messages: %d\n", cs.Messages)
			}
			if cs.LivenessFailures > 0 {
				fmt.Fprintf(w, "           Liveness failures: %d\n", cs.LivenessFailures)
			}
			if cs.FinalState != "" {
				fmt.Fprintf(w, "           State: %s\n", cs.FinalState)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d (liveness: %d)\n", stats.Errors, stats.LivenessFailures)
	}
}
