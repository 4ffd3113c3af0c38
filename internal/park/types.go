package park

import "time"

// State is the occupancy state of a park.
type State int

// Park states as stored in the registry.
const (
	Available State = 0
	Reserved  State = 1
	Occupied  State = 2
	Ready     State = 3
)

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s >= Available && s <= Ready
}

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case Reserved:
		return "reserved"
	case Occupied:
		return "occupied"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Park is a named bay a vehicle can be sent to or collected from.
type Park struct {
	Name      string    `json:"name"`
	Group     string    `json:"group"`
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}
