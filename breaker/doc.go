// Package breaker provides circuit breaking keyed by failure category.
//
// A Breaker trips open after a threshold of consecutive failures and, once
// a cooldown has passed, admits exactly one probe call to test recovery. A
// Set groups one breaker per failure category for a single dependency: a
// run of timeouts counts only against the timeout breaker, each category
// cools down on its own schedule, and any open category fails calls fast
// until its probe succeeds.
//
// Calls flow through a Set as tickets:
//
//	set := breaker.NewSet(breaker.SetConfig{Name: "llm"})
//
//	ticket, err := set.Allow()
//	if err != nil {
//	    return err // some category's circuit is open
//	}
//	if opErr := call(); opErr != nil {
//	    ticket.Failure("timeout")
//	    return opErr
//	}
//	ticket.Success()
package breaker
