package queue

import "fmt"

// CheckCycles rejects circular dependency graphs at load time. It returns
// an error naming one ticket on the cycle if one is found.
func CheckCycles(tickets []Ticket) error {
	byID := make(map[string]Ticket, len(tickets))
	for _, t := range tickets {
		byID[t.ID] = t
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(tickets))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range byID[id].Dependencies {
			if _, ok := byID[dep]; !ok {
				continue // unknown dependency ids are a validation concern, not a cycle
			}
			switch color[dep] {
			case gray:
				return fmt.Errorf("queue: circular dependency detected at ticket %q", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, t := range tickets {
		if color[t.ID] == white {
			if err := visit(t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// EligibleTickets returns, in the supplied order, the subset of tickets
// that are eligible to run now, plus the subset that must be skipped
// because a dependency has already failed or was itself skipped. Tickets
// are never reordered by
// priority: declaration order (file order, then dynamically-queued order)
// is the execution order, per the orchestrator's documented policy that
// priority is display metadata only.
func EligibleTickets(tickets []Ticket, statusOf func(id string) (Status, bool)) (eligible []Ticket, skip []Ticket) {
	for _, t := range tickets {
		ok, shouldSkip := t.Eligible(statusOf)
		switch {
		case shouldSkip:
			skip = append(skip, t)
		case ok:
			eligible = append(eligible, t)
		}
	}
	return eligible, skip
}
