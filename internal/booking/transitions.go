package booking

// Operation names a lifecycle operation the machine can attempt.
type Operation string

const (
	OpCreate              Operation = "create"
	OpConfirm             Operation = "confirm"
	OpResolveConfirmation Operation = "resolve_confirmation"
	OpDepart              Operation = "depart"
	OpArrive              Operation = "arrive"
	OpCheckIn             Operation = "check_in"
	OpAddService          Operation = "add_service"
	OpReassignStaff       Operation = "reassign_staff"
	OpComplete            Operation = "complete"
	OpCancel              Operation = "cancel"
	OpNoShow              Operation = "no_show"
	OpHandoff             Operation = "sos_handoff"
)

var preCompletion = []Status{
	StatusPending, StatusConfirmed, StatusAssigned, StatusOnTheWay,
	StatusArrived, StatusCheckIn, StatusInProgress, StatusCheckOut,
}

// allowedFrom maps each operation to the statuses it may start from.
var allowedFrom = map[Operation][]Status{
	OpConfirm:             {StatusPending},
	OpResolveConfirmation: {StatusPending},
	OpDepart:              {StatusConfirmed, StatusAssigned},
	OpArrive:              {StatusOnTheWay},
	OpCheckIn:             {StatusConfirmed, StatusAssigned, StatusArrived, StatusCheckIn},
	OpAddService:          {StatusArrived, StatusCheckIn, StatusInProgress},
	OpReassignStaff:       preCompletion,
	OpComplete:            {StatusInProgress},
	OpCancel:              preCompletion,
	OpNoShow:              preCompletion,
}

// Allowed reports whether op may be attempted while the booking is in status.
func Allowed(op Operation, status Status) bool {
	for _, s := range allowedFrom[op] {
		if s == status {
			return true
		}
	}
	return false
}

// AllowedOperations lists the operations legal from status, in a stable order.
func AllowedOperations(status Status) []Operation {
	order := []Operation{
		OpConfirm, OpResolveConfirmation, OpDepart, OpArrive, OpCheckIn,
		OpAddService, OpReassignStaff, OpComplete, OpCancel, OpNoShow,
	}
	var out []Operation
	for _, op := range order {
		if Allowed(op, status) {
			out = append(out, op)
		}
	}
	return out
}

var statusRank = map[Status]int{
	StatusPending:    0,
	StatusConfirmed:  1,
	StatusAssigned:   2,
	StatusOnTheWay:   3,
	StatusArrived:    4,
	StatusCheckIn:    5,
	StatusInProgress: 6,
	StatusCheckOut:   7,
	StatusCompleted:  8,
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Known reports whether s is a recognised lifecycle status.
func (s Status) Known() bool {
	_, ok := statusRank[s]
	return ok || s == StatusCancelled || s == StatusNoShow
}

// CanAdvance reports whether moving from one status to another follows the
// forward-only graph. Staying put is allowed; cancellation and no-show are
// reachable from any non-terminal status before completion.
func CanAdvance(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() || !to.Known() {
		return false
	}
	if to == StatusCancelled || to == StatusNoShow {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	return statusRank[to] > fromRank
}
