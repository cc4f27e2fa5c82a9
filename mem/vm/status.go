package vm

// Status is the state of a page entry.
type Status int

// The states a page entry moves through. The resident states are the only
// states in which a page occupies a frame.
const (
	StatusInvalid Status = iota
	StatusResident
	StatusSwapped
	StatusExecResident
	StatusExecNotLoaded
	StatusExecSwapped
	StatusMappedResident
	StatusMappedNotLoaded
	StatusRemoved
)

var statusNames = map[Status]string{
	StatusInvalid:         "Invalid",
	StatusResident:        "Resident",
	StatusSwapped:         "Swapped",
	StatusExecResident:    "ExecResident",
	StatusExecNotLoaded:   "ExecNotLoaded",
	StatusExecSwapped:     "ExecSwapped",
	StatusMappedResident:  "MappedResident",
	StatusMappedNotLoaded: "MappedNotLoaded",
	StatusRemoved:         "Removed",
}

func (s Status) String() string {
	name, ok := statusNames[s]
	if !ok {
		return "Unknown"
	}

	return name
}

// IsResident returns true if a page in this status occupies a frame.
func (s Status) IsResident() bool {
	switch s {
	case StatusResident, StatusExecResident, StatusMappedResident:
		return true
	default:
		return false
	}
}

// IsOnSwap returns true if a page in this status keeps its content in a
// swap slot.
func (s Status) IsOnSwap() bool {
	return s == StatusSwapped || s == StatusExecSwapped
}

// Loaded returns the resident status a page takes once it is faulted in from
// this status. The bool return value is false if the status cannot be
// faulted in.
func (s Status) Loaded() (Status, bool) {
	switch s {
	case StatusSwapped:
		return StatusResident, true
	case StatusExecNotLoaded, StatusExecSwapped:
		return StatusExecResident, true
	case StatusMappedNotLoaded:
		return StatusMappedResident, true
	default:
		return StatusInvalid, false
	}
}
