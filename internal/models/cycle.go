package models

import "time"

// CycleStatus is the externally visible lifecycle status of a wheel cycle.
type CycleStatus string

const (
	CycleActive    CycleStatus = "active"
	CycleCompleted CycleStatus = "completed"
)

// CycleType classifies how a completed cycle ended.
type CycleType string

const (
	CycleTypePending                 CycleType = ""
	CycleTypePutExpired              CycleType = "put-expired"
	CycleTypePutAssignedCallExpired  CycleType = "put-assigned-call-expired"
	CycleTypePutAssignedCallAssigned CycleType = "put-assigned-call-assigned"
)

// WheelCycle is one full or partial round of the wheel for a single symbol.
// Premiums and fees are non-negative magnitudes; NetProfit may be negative.
type WheelCycle struct {
	ID                    string      `json:"id"`
	Symbol                string      `json:"symbol"`
	StartDate             time.Time   `json:"startDate"`
	EndDate               *time.Time  `json:"endDate,omitempty"`
	Status                CycleStatus `json:"status"`
	State                 CycleState  `json:"state"`
	CycleType             CycleType   `json:"cycleType,omitempty"`
	Trades                []Trade     `json:"trades"`
	TotalPremiumCollected float64     `json:"totalPremiumCollected"`
	TotalFees             float64     `json:"totalFees"`
	ClosingDebits         float64     `json:"closingDebits"`
	NetProfit             float64     `json:"netProfit"`
	AssignmentPrice       *float64    `json:"assignmentPrice,omitempty"`
	SharesAssigned        *float64    `json:"sharesAssigned,omitempty"`
	CallAssignmentPrice   *float64    `json:"callAssignmentPrice,omitempty"`
	SafeStrikePrice       *float64    `json:"safeStrikePrice,omitempty"`

	PutSymbol  string     `json:"putSymbol"`
	PutStrike  float64    `json:"putStrike"`
	PutExpiry  *time.Time `json:"putExpiry,omitempty"`
	Contracts  float64    `json:"contracts"`
	CallSymbol string     `json:"callSymbol,omitempty"`
	CallStrike float64    `json:"callStrike,omitempty"`
	CallExpiry *time.Time `json:"callExpiry,omitempty"`
}

// IsActive returns true while the cycle has not completed.
func (c *WheelCycle) IsActive() bool {
	return c.Status == CycleActive
}

// IsCompleted returns true once the cycle reached its terminal state.
func (c *WheelCycle) IsCompleted() bool {
	return c.Status == CycleCompleted
}

// HeldShares returns the assigned share count still owned by the cycle.
// Shares stay with the cycle after a covered call expires.
func (c *WheelCycle) HeldShares() float64 {
	if c.SharesAssigned == nil {
		return 0
	}
	if c.State.HoldsShares() || c.CycleType == CycleTypePutAssignedCallExpired {
		return *c.SharesAssigned
	}
	return 0
}

// RelevantDate is the date a cycle is attributed to for reporting:
// completion date once completed, otherwise the opening put sale date.
func (c *WheelCycle) RelevantDate() time.Time {
	if c.IsCompleted() && c.EndDate != nil {
		return *c.EndDate
	}
	return c.StartDate
}

// DurationDays returns the number of days between start and end (or asOf for active cycles).
func (c *WheelCycle) DurationDays(asOf time.Time) int {
	end := asOf
	if c.EndDate != nil {
		end = *c.EndDate
	}
	d := int(TruncateDay(end).Sub(TruncateDay(c.StartDate)).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
