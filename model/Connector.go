package model

import (
	"errors"
	"fmt"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
)

var (
	ErrTransactionInProgress = errors.New("transaction in progress")
	ErrNoTransaction         = errors.New("no transaction in progress")
)

type Connector struct {
	Id            int                       `json:"id"`
	Status        core.ChargePointStatus    `json:"status"`
	ErrorCode     core.ChargePointErrorCode `json:"errorCode"`
	Transaction   *Transaction              `json:"transaction,omitempty"`
	ReservationId int                       `json:"reservationId,omitempty"`
	Operative     bool                      `json:"operative"`
}

func NewConnector(id int) *Connector {
	return &Connector{
		Id:        id,
		Status:    core.ChargePointStatusAvailable,
		ErrorCode: core.NoError,
		Operative: true,
	}
}

func (c *Connector) HasTransactionInProgress() bool {
	return c.Transaction != nil
}

// IsFree reports whether a new transaction may start on the connector.
func (c *Connector) IsFree() bool {
	return c.Operative && !c.HasTransactionInProgress() && c.ReservationId == 0
}

// IsClaimed reports whether the connector is held for a StartTransaction that
// has not been acknowledged yet.
func (c *Connector) IsClaimed() bool {
	return c.Transaction != nil && c.Transaction.Status == TransactionStatusStarting
}

// Claim holds the connector for idTag until Attach or Release.
func (c *Connector) Claim(idTag string) error {
	if c.HasTransactionInProgress() {
		return fmt.Errorf("connector %v is currently busy: %w", c.Id, ErrTransactionInProgress)
	}
	c.Transaction = NewStartingTransaction(idTag)
	c.Status = core.ChargePointStatusPreparing
	return nil
}

// Release drops a claim. It does nothing once the transaction is attached.
func (c *Connector) Release() {
	if !c.IsClaimed() {
		return
	}
	c.Transaction = nil
	c.SetOperative(c.Operative)
}

// Attach replaces a claim, or an empty slot, with an acknowledged transaction.
func (c *Connector) Attach(transaction *Transaction) error {
	if c.HasTransactionInProgress() && !c.IsClaimed() {
		return fmt.Errorf("connector %v is currently busy with transaction %v: %w", c.Id, c.Transaction.Id, ErrTransactionInProgress)
	}
	c.Transaction = transaction
	c.Status = core.ChargePointStatusCharging
	return nil
}

func (c *Connector) Detach() (*Transaction, error) {
	if !c.HasTransactionInProgress() {
		return nil, fmt.Errorf("connector %v: %w", c.Id, ErrNoTransaction)
	}
	transaction := c.Transaction
	c.Transaction = nil
	if c.Operative {
		c.Status = core.ChargePointStatusAvailable
	} else {
		c.Status = core.ChargePointStatusUnavailable
	}
	return transaction, nil
}

// SetStatus records a reported status. A suspended status halts the running
// transaction and Charging resumes it.
func (c *Connector) SetStatus(status core.ChargePointStatus, errorCode core.ChargePointErrorCode) {
	c.Status = status
	c.ErrorCode = errorCode
	if !c.HasTransactionInProgress() || c.IsClaimed() {
		return
	}
	switch status {
	case core.ChargePointStatusSuspendedEV:
		c.Transaction.Status = TransactionStatusHaltedByEV
	case core.ChargePointStatusSuspendedEVSE:
		c.Transaction.Status = TransactionStatusHaltedByCS
	case core.ChargePointStatusCharging:
		c.Transaction.Status = TransactionStatusOngoing
	}
}

func (c *Connector) SetOperative(operative bool) {
	c.Operative = operative
	if c.HasTransactionInProgress() {
		return
	}
	if operative {
		c.Status = core.ChargePointStatusAvailable
	} else {
		c.Status = core.ChargePointStatusUnavailable
	}
}
