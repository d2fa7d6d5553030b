package orders

// allowedTransitions is the single source of truth for legal status moves.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending:    {StatusConfirmed: {}, StatusCancelled: {}},
	StatusConfirmed:  {StatusProcessing: {}, StatusCancelled: {}},
	StatusProcessing: {StatusShipped: {}, StatusCancelled: {}},
	StatusShipped:    {StatusCompleted: {}},
	StatusCompleted:  {StatusRefunded: {}},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	_, ok := allowedTransitions[from][to]
	return ok
}

// KnownStatus reports whether s is part of the lifecycle.
func KnownStatus(s Status) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
		StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}
