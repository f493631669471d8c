package models

import (
	"fmt"
)

// CycleState represents where a wheel cycle is in the put -> shares -> call round.
type CycleState string

const (
	StateNoPosition CycleState = "no_position" // Nothing open for the cycle yet
	StatePutOpen    CycleState = "put_open"    // Short put outstanding
	StateSharesHeld CycleState = "shares_held" // Put assigned, no call written
	StateCallOpen   CycleState = "call_open"   // Covered call outstanding
	StateClosed     CycleState = "closed"      // Terminal
)

// CycleEvent is a trade-derived or time-derived condition that moves a cycle.
type CycleEvent string

const (
	EventPutSold      CycleEvent = "put_sold"
	EventPutExpired   CycleEvent = "put_expired"
	EventPutClosed    CycleEvent = "put_closed"
	EventPutAssigned  CycleEvent = "put_assigned"
	EventCallSold     CycleEvent = "call_sold"
	EventCallExpired  CycleEvent = "call_expired"
	EventCallClosed   CycleEvent = "call_closed"
	EventCallAssigned CycleEvent = "call_assigned"
)

// StateTransition defines valid state transitions
type StateTransition struct {
	From        CycleState
	To          CycleState
	Event       CycleEvent
	Description string
}

// ValidTransitions is the complete wheel cycle transition table.
var ValidTransitions = []StateTransition{
	{StateNoPosition, StatePutOpen, EventPutSold, "Cash-secured put sold, cycle opened"},

	{StatePutOpen, StateClosed, EventPutExpired, "Put expired worthless"},
	{StatePutOpen, StateClosed, EventPutClosed, "Put bought back before expiry"},
	{StatePutOpen, StateSharesHeld, EventPutAssigned, "Put assigned, shares acquired"},

	{StateSharesHeld, StateCallOpen, EventCallSold, "Covered call sold against assigned shares"},

	{StateCallOpen, StateClosed, EventCallExpired, "Covered call expired worthless"},
	{StateCallOpen, StateSharesHeld, EventCallClosed, "Covered call bought back, shares still held"},
	{StateCallOpen, StateClosed, EventCallAssigned, "Covered call assigned, shares called away"},
}

// NextState is the cycle transition function. It returns an error when the
// event is not defined for the current state; the state is then unchanged.
func NextState(from CycleState, event CycleEvent) (CycleState, error) {
	for _, tr := range ValidTransitions {
		if tr.From == from && tr.Event == event {
			return tr.To, nil
		}
	}
	return from, fmt.Errorf("invalid transition from %s with event '%s'", from, event)
}

// CycleTypeFor returns the outcome classification of a cycle closed by event.
func CycleTypeFor(event CycleEvent) CycleType {
	switch event {
	case EventPutExpired, EventPutClosed:
		return CycleTypePutExpired
	case EventCallExpired:
		return CycleTypePutAssignedCallExpired
	case EventCallAssigned:
		return CycleTypePutAssignedCallAssigned
	default:
		return CycleTypePending
	}
}

// IsOpen returns true if an option obligation or assigned shares keep the cycle alive.
func (s CycleState) IsOpen() bool {
	return s == StatePutOpen || s == StateSharesHeld || s == StateCallOpen
}

// HoldsShares returns true if the cycle currently owns assigned shares.
func (s CycleState) HoldsShares() bool {
	return s == StateSharesHeld || s == StateCallOpen
}

// Description returns a human-readable description of the state
func (s CycleState) Description() string {
	switch s {
	case StateNoPosition:
		return "No position, waiting for a put sale"
	case StatePutOpen:
		return "Short put open, collecting premium"
	case StateSharesHeld:
		return "Assigned shares held, ready to sell a covered call"
	case StateCallOpen:
		return "Covered call open against assigned shares"
	case StateClosed:
		return "Cycle closed"
	default:
		return "Unknown state"
	}
}
