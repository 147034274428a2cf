package enums

import "fmt"

type DeliverableStatus string

const (
	DeliverableQueued     DeliverableStatus = "queued"
	DeliverableGenerating DeliverableStatus = "generating"
	DeliverableReady      DeliverableStatus = "ready"
	DeliverableFailed     DeliverableStatus = "failed"
	DeliverableDead       DeliverableStatus = "dead"
)

var validDeliverableStatuses = []DeliverableStatus{
	DeliverableQueued,
	DeliverableGenerating,
	DeliverableReady,
	DeliverableFailed,
	DeliverableDead,
}

func (s DeliverableStatus) String() string {
	return string(s)
}

func (s DeliverableStatus) IsValid() bool {
	for _, candidate := range validDeliverableStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the runner will never touch the job again.
func (s DeliverableStatus) IsTerminal() bool {
	return s == DeliverableReady || s == DeliverableDead
}

func ParseDeliverableStatus(value string) (DeliverableStatus, error) {
	for _, candidate := range validDeliverableStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid deliverable status %q", value)
}

type DeliverableKind string

const (
	DeliverableKindListingKit DeliverableKind = "listing_kit"
)

func (k DeliverableKind) IsValid() bool {
	return k == DeliverableKindListingKit
}
