package enums

import "fmt"

// PrintJobStatus only advances forward; an administrative reset is the sole
// way back to queued.
type PrintJobStatus string

const (
	PrintJobQueued     PrintJobStatus = "queued"
	PrintJobClaimed    PrintJobStatus = "claimed"
	PrintJobDownloaded PrintJobStatus = "downloaded"
	PrintJobPrinted    PrintJobStatus = "printed"
)

var validPrintJobStatuses = []PrintJobStatus{
	PrintJobQueued,
	PrintJobClaimed,
	PrintJobDownloaded,
	PrintJobPrinted,
}

// String implements fmt.Stringer.
func (s PrintJobStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PrintJobStatus.
func (s PrintJobStatus) IsValid() bool {
	for _, candidate := range validPrintJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsActive reports whether the job still occupies the order's print slot.
func (s PrintJobStatus) IsActive() bool {
	return s == PrintJobQueued || s == PrintJobClaimed || s == PrintJobDownloaded
}

// ParsePrintJobStatus converts raw input into a PrintJobStatus.
func ParsePrintJobStatus(value string) (PrintJobStatus, error) {
	for _, candidate := range validPrintJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid print job status %q", value)
}
