package common

// Command is a control request received from an outer surface (NATS, HTTP).
type Command struct {
	Action        string                 `json:"action" validate:"required"`
	ChargePointId string                 `json:"chargePointId" validate:"required"`
	Payload       map[string]interface{} `json:"payload"`
}
