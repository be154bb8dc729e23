package model

// transitions is the complete edge set of the ticket lifecycle.
var transitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:       {TicketStatusAssigned},
	TicketStatusAssigned:   {TicketStatusInProgress, TicketStatusOpen},
	TicketStatusInProgress: {TicketStatusResolved, TicketStatusClosed},
}

func ParseTicketStatus(s string) (TicketStatus, bool) {
	switch st := TicketStatus(s); st {
	case TicketStatusOpen, TicketStatusAssigned, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return st, true
	}
	return "", false
}

func (s TicketStatus) Terminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// Active: статусы, при которых у тикета должен быть назначен саппортер.
func (s TicketStatus) Active() bool {
	return s == TicketStatusAssigned || s == TicketStatusInProgress
}

func (s TicketStatus) CanTransitionTo(next TicketStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OpenStatuses: статусы, которые попадают в очередь саппортеров.
func OpenStatuses() []TicketStatus {
	return []TicketStatus{TicketStatusOpen, TicketStatusAssigned, TicketStatusInProgress}
}
