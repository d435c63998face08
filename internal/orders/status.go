package orders

import (
	"fmt"
	"strings"
)

type Status string

// Wire values as the orders service stores them.
const (
	StatusInProgress Status = "in progress"
	StatusPaid       Status = "paid"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{StatusInProgress, StatusPaid, StatusDelivered, StatusCancelled}

// AllStatuses returns the selectable statuses in display order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus accepts the wire value or its snake_case form (in_progress).
func ParseStatus(s string) (Status, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "_", " ")
	for _, st := range allStatuses {
		if string(st) == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (s Status) Valid() bool {
	for _, st := range allStatuses {
		if st == s {
			return true
		}
	}
	return false
}
