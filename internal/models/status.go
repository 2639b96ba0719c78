package models

import (
	"database/sql/driver"
	"fmt"
)

// OrderStatus is the lifecycle state of an order.
//
// The machine has two states and one transition:
//
//	PENDING --complete--> COMPLETED
//
// COMPLETED is terminal. Refunds are reported by the payment provider but
// have no transition here.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// transitions lists every legal move out of a state.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusCompleted},
	OrderStatusCompleted: {},
}

// Valid reports whether s is a known state
func (s OrderStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s OrderStatus) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Payable reports whether a checkout session may be opened for an order in s
func (s OrderStatus) Payable() bool {
	return s.CanTransitionTo(OrderStatusCompleted)
}

func (s OrderStatus) String() string {
	return string(s)
}

// Scan implements sql.Scanner
func (s *OrderStatus) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into OrderStatus", src)
	}

	status := OrderStatus(raw)
	if !status.Valid() {
		return fmt.Errorf("unknown order status %q", raw)
	}
	*s = status
	return nil
}

// Value implements driver.Valuer
func (s OrderStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown order status %q", string(s))
	}
	return string(s), nil
}
