package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrIdleTimeout is returned when the fleet stays busy past the configured idle timeout.
	ErrIdleTimeout = errors.New("dispatch: fleet did not become idle in time")

	// ErrRejected is returned for non-2xx responses from the dispatch service.
	ErrRejected = errors.New("dispatch: request rejected")
)

// Order is the transport order payload accepted by the dispatch service.
type Order struct {
	ID           string   `json:"id"`
	SystemID     string   `json:"systemId"`
	Type         string   `json:"type"`
	Flag         string   `json:"flag"`
	Description  string   `json:"description"`
	RequiredAGVs []string `json:"requiredAgvs"`
	Priority     int      `json:"priority"`
	Source       string   `json:"source"`
	Destination  string   `json:"destination"`
	Cargo        string   `json:"cargo"`
	Parameters   string   `json:"parameters"`
	ValidPeriod  int      `json:"validPeriod"`
	Dependencies string   `json:"Dependencies"`
	Sequence     *string  `json:"Sequence"`
}

// VehicleStatus is one vehicle's current order as reported by the fleet endpoint.
type VehicleStatus struct {
	AGVID   string  `json:"agvId"`
	OrderID *string `json:"orderId"`
}

// Busy reports whether the vehicle has a current order.
func (v VehicleStatus) Busy() bool {
	return v.OrderID != nil && *v.OrderID != ""
}

// FleetStatus is the response of the fleet status endpoint.
type FleetStatus struct {
	Success        bool            `json:"success"`
	AllOrderIDNull *bool           `json:"allOrderIdNull"`
	Vehicles       []VehicleStatus `json:"agvStatuses"`
}

// Idle reports whether no vehicle has a current order. When the service
// omits the summary flag the per-vehicle list decides; an empty fleet is idle.
func (f FleetStatus) Idle() bool {
	if !f.Success {
		return false
	}
	if f.AllOrderIDNull != nil {
		return *f.AllOrderIDNull
	}
	for _, v := range f.Vehicles {
		if v.Busy() {
			return false
		}
	}
	return true
}

// BusyCount returns how many vehicles still hold an order.
func (f FleetStatus) BusyCount() int {
	n := 0
	for _, v := range f.Vehicles {
		if v.Busy() {
			n++
		}
	}
	return n
}

// HTTPError carries a rejected response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	return ErrRejected
}
