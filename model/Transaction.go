package model

import "time"

type TransactionStatus string

const (
	TransactionStatusStarting   TransactionStatus = "Starting"
	TransactionStatusOngoing    TransactionStatus = "Ongoing"
	TransactionStatusHaltedByEV TransactionStatus = "HaltedByEV"
	TransactionStatusHaltedByCS TransactionStatus = "HaltedByCS"
	TransactionStatusFinishing  TransactionStatus = "Finishing"
)

// Transaction is a charging session attached to a connector between the
// acknowledged StartTransaction and the acknowledged StopTransaction.
type Transaction struct {
	Id                 int               `json:"id"`
	Status             TransactionStatus `json:"status"`
	IdTag              string            `json:"idTag"`
	MeterStart         int               `json:"meterStart"`
	MeterStop          int               `json:"meterStop"`
	CurrentConsumption float64           `json:"currentConsumption"`
	StartedAt          time.Time         `json:"startedAt"`
}

func NewTransaction(id int, idTag string, meterStart int) *Transaction {
	return &Transaction{
		Id:         id,
		Status:     TransactionStatusOngoing,
		IdTag:      idTag,
		MeterStart: meterStart,
		StartedAt:  time.Now(),
	}
}

// NewStartingTransaction is the placeholder that holds a connector until the
// central system acknowledges the StartTransaction sent for idTag.
func NewStartingTransaction(idTag string) *Transaction {
	return &Transaction{
		Status:    TransactionStatusStarting,
		IdTag:     idTag,
		StartedAt: time.Now(),
	}
}

func (t *Transaction) Finish(meterStop int) {
	t.MeterStop = meterStop
	t.Status = TransactionStatusFinishing
}
