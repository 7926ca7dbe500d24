package aggregate

import "fmt"

// Status is the lifecycle state of a scan session:
// Idle | InProgress | Complete | Failed.
//
// The set of implementations is closed; switch on the concrete type.
type Status interface {
	fmt.Stringer
	isStatus()
}

type Idle struct{}

type InProgress struct {
	Processed int
	Total     int
}

type Complete struct{}

type Failed struct {
	Reason string
}

// Failure reasons recorded by the scan pipeline.
const (
	ReasonTransport = "transport-error"
	ReasonCanceled  = "canceled"
	ReasonEmpty     = "empty-result"
	ReasonScrape    = "scrape-error"
)

func (Idle) isStatus()       {}
func (InProgress) isStatus() {}
func (Complete) isStatus()   {}
func (Failed) isStatus()     {}

func (Idle) String() string { return "Idle" }

func (s InProgress) String() string {
	if s.Total == 0 {
		return "Scanning…"
	}
	return fmt.Sprintf("Scanning (%d/%d)", s.Processed, s.Total)
}

func (Complete) String() string { return "Complete" }

func (s Failed) String() string {
	if s.Reason == "" {
		return "Failed"
	}
	return "Failed: " + s.Reason
}

// Busy reports whether a scan is still running.
func Busy(s Status) bool {
	_, ok := s.(InProgress)
	return ok
}

// StatusName is the stable machine name of a status, used in JSON output.
func StatusName(s Status) string {
	switch s.(type) {
	case InProgress:
		return "in_progress"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}
