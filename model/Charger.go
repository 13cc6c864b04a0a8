package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/localauth"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/reservation"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/smartcharging"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	"charge_point/common"
)

const (
	DefaultFirmwareVersion   = "virtual firmware 1.0.0"
	DefaultIdTag             = "superrfid"
	DefaultHeartbeatInterval = 60
	DefaultMeterInterval     = 60

	KeyHeartbeatInterval        = "HeartbeatInterval"
	KeyMeterValueSampleInterval = "MeterValueSampleInterval"
	KeyNumberOfConnectors       = "NumberOfConnectors"
	KeySupportedFeatureProfiles = "SupportedFeatureProfiles"
	KeyLocalAuthListEnabled     = "LocalAuthListEnabled"
	KeyAuthorizeRemoteTx        = "AuthorizeRemoteTxRequests"
)

var (
	ErrUnknownConnector = errors.New("unknown connector")
	ErrUnknownKey       = errors.New("unknown configuration key")
	ErrReadOnlyKey      = errors.New("read-only configuration key")
	ErrInvalidValue     = errors.New("invalid configuration value")
)

// Features lists the feature profiles the charger claims to support.
type Features struct {
	Core                bool `json:"core" mapstructure:"core"`
	SmartCharging       bool `json:"smartCharging" mapstructure:"smart_charging"`
	RemoteTrigger       bool `json:"remoteTrigger" mapstructure:"remote_trigger"`
	FirmwareManagement  bool `json:"firmwareManagement" mapstructure:"firmware_management"`
	LocalAuthManagement bool `json:"localAuthManagement" mapstructure:"local_auth_management"`
	Reservation         bool `json:"reservation" mapstructure:"reservation"`
}

func DefaultFeatures() Features {
	return Features{Core: true, RemoteTrigger: true}
}

// Profiles returns the OCPP profile names matching the enabled features.
func (f Features) Profiles() []string {
	var profiles []string
	if f.Core {
		profiles = append(profiles, core.ProfileName)
	}
	if f.FirmwareManagement {
		profiles = append(profiles, firmware.ProfileName)
	}
	if f.LocalAuthManagement {
		profiles = append(profiles, localauth.ProfileName)
	}
	if f.Reservation {
		profiles = append(profiles, reservation.ProfileName)
	}
	if f.SmartCharging {
		profiles = append(profiles, smartcharging.ProfileName)
	}
	if f.RemoteTrigger {
		profiles = append(profiles, remotetrigger.ProfileName)
	}
	return profiles
}

type configurationEntry struct {
	value    string
	readonly bool
}

// Charger is the state of the simulated charge point. It is not safe for
// concurrent use on its own: callers hold Lock while reading or mutating it.
type Charger struct {
	mu sync.Mutex

	Id              string
	Vendor          string
	Model           string
	FirmwareVersion string
	SerialNumber    string
	Password        string
	DefaultIdTag    string

	Connectors []*Connector
	Status     core.ChargePointStatus
	ErrorCode  core.ChargePointErrorCode
	Features   Features

	HeartbeatInterval   int
	MeterValuesInterval int
	Registration        core.RegistrationStatus
	LastHeartbeat       time.Time

	configuration    map[string]configurationEntry
	localListVersion int
	localList        map[string]types.AuthorizationStatus
	idTagCache       map[string]types.AuthorizationStatus
	chargingProfiles map[int]*types.ChargingProfile
}

func NewCharger(id string, numberOfConnectors int, features Features) *Charger {
	charger := &Charger{
		Id:                  id,
		Vendor:              "unknown",
		Model:               "unknown",
		FirmwareVersion:     DefaultFirmwareVersion,
		DefaultIdTag:        DefaultIdTag,
		Status:              core.ChargePointStatusAvailable,
		ErrorCode:           core.NoError,
		Features:            features,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		MeterValuesInterval: DefaultMeterInterval,
		configuration:       map[string]configurationEntry{},
		localList:           map[string]types.AuthorizationStatus{},
		idTagCache:          map[string]types.AuthorizationStatus{},
		chargingProfiles:    map[int]*types.ChargingProfile{},
	}
	for i := 1; i <= numberOfConnectors; i++ {
		charger.Connectors = append(charger.Connectors, NewConnector(i))
	}

	charger.configuration[KeyHeartbeatInterval] = configurationEntry{value: strconv.Itoa(charger.HeartbeatInterval)}
	charger.configuration[KeyMeterValueSampleInterval] = configurationEntry{value: strconv.Itoa(charger.MeterValuesInterval)}
	charger.configuration[KeyNumberOfConnectors] = configurationEntry{value: strconv.Itoa(numberOfConnectors), readonly: true}
	charger.configuration[KeySupportedFeatureProfiles] = configurationEntry{value: strings.Join(features.Profiles(), ","), readonly: true}
	charger.configuration[KeyLocalAuthListEnabled] = configurationEntry{value: strconv.FormatBool(features.LocalAuthManagement)}
	charger.configuration[KeyAuthorizeRemoteTx] = configurationEntry{value: "false"}
	charger.configuration["AuthorizationCacheEnabled"] = configurationEntry{value: "true"}
	charger.configuration["ConnectionTimeOut"] = configurationEntry{value: "60"}
	charger.configuration["GetConfigurationMaxKeys"] = configurationEntry{value: "50", readonly: true}
	charger.configuration["LocalAuthorizeOffline"] = configurationEntry{value: "true"}
	charger.configuration["LocalPreAuthorize"] = configurationEntry{value: "false"}
	charger.configuration["MeterValuesSampledData"] = configurationEntry{value: "Energy.Active.Import.Register"}
	charger.configuration["ResetRetries"] = configurationEntry{value: "1"}
	charger.configuration["StopTransactionOnEVSideDisconnect"] = configurationEntry{value: "true"}
	charger.configuration["StopTransactionOnInvalidId"] = configurationEntry{value: "true"}
	charger.configuration["TransactionMessageAttempts"] = configurationEntry{value: "3"}
	charger.configuration["TransactionMessageRetryInterval"] = configurationEntry{value: "60"}
	charger.configuration["UnlockConnectorOnEVSideDisconnect"] = configurationEntry{value: "true"}
	charger.configuration["WebSocketPingInterval"] = configurationEntry{value: "30"}
	return charger
}

func (c *Charger) Lock() {
	c.mu.Lock()
}

func (c *Charger) Unlock() {
	c.mu.Unlock()
}

func (c *Charger) Connector(id int) (*Connector, error) {
	if id < 1 || id > len(c.Connectors) {
		return nil, fmt.Errorf("connector %v: %w", id, ErrUnknownConnector)
	}
	return c.Connectors[id-1], nil
}

// FreeConnector returns the first connector able to start a transaction.
func (c *Charger) FreeConnector() (*Connector, bool) {
	for _, connector := range c.Connectors {
		if connector.IsFree() {
			return connector, true
		}
	}
	return nil, false
}

func (c *Charger) ConnectorByTransaction(transactionId int) (*Connector, bool) {
	for _, connector := range c.Connectors {
		if connector.Transaction != nil && !connector.IsClaimed() && connector.Transaction.Id == transactionId {
			return connector, true
		}
	}
	return nil, false
}

func (c *Charger) ConnectorClaimedBy(idTag string) (*Connector, bool) {
	for _, connector := range c.Connectors {
		if connector.IsClaimed() && connector.Transaction.IdTag == idTag {
			return connector, true
		}
	}
	return nil, false
}

func (c *Charger) ConnectorByReservation(reservationId int) (*Connector, bool) {
	for _, connector := range c.Connectors {
		if reservationId != 0 && connector.ReservationId == reservationId {
			return connector, true
		}
	}
	return nil, false
}

// ------------- Configuration -------------

func (c *Charger) ConfigurationValue(key string) (string, bool) {
	entry, ok := c.configuration[key]
	return entry.value, ok
}

// SetConfiguration applies a ChangeConfiguration request. Interval keys are
// kept in sync with the charger fields they mirror.
func (c *Charger) SetConfiguration(key string, value string) error {
	entry, ok := c.configuration[key]
	if !ok {
		return fmt.Errorf("%v: %w", key, ErrUnknownKey)
	}
	if entry.readonly {
		return fmt.Errorf("%v: %w", key, ErrReadOnlyKey)
	}
	switch key {
	case KeyHeartbeatInterval, KeyMeterValueSampleInterval:
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds < 0 {
			return fmt.Errorf("%v=%q: %w", key, value, ErrInvalidValue)
		}
		if key == KeyHeartbeatInterval {
			c.HeartbeatInterval = seconds
		} else {
			c.MeterValuesInterval = seconds
		}
	}
	entry.value = value
	c.configuration[key] = entry
	return nil
}

func (c *Charger) SetHeartbeatInterval(seconds int) {
	c.HeartbeatInterval = seconds
	entry := c.configuration[KeyHeartbeatInterval]
	entry.value = strconv.Itoa(seconds)
	c.configuration[KeyHeartbeatInterval] = entry
}

// Configuration returns the requested keys, or every key when none is given,
// together with the requested keys the charger does not know.
func (c *Charger) Configuration(keys []string) ([]core.ConfigurationKey, []string) {
	if len(keys) == 0 {
		for key := range c.configuration {
			keys = append(keys, key)
		}
		sort.Strings(keys)
	}
	var known []core.ConfigurationKey
	var unknown []string
	for _, key := range keys {
		entry, ok := c.configuration[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		value := entry.value
		known = append(known, core.ConfigurationKey{Key: key, Readonly: entry.readonly, Value: &value})
	}
	return known, unknown
}

// ------------- Authorization -------------

func (c *Charger) LocalListVersion() int {
	return c.localListVersion
}

func (c *Charger) UpdateLocalList(version int, full bool, entries []localauth.AuthorizationData) {
	if full {
		c.localList = map[string]types.AuthorizationStatus{}
	}
	for _, entry := range entries {
		if entry.IdTagInfo == nil {
			delete(c.localList, entry.IdTag)
			continue
		}
		c.localList[entry.IdTag] = entry.IdTagInfo.Status
	}
	c.localListVersion = version
}

func (c *Charger) RememberIdTag(idTag string, status types.AuthorizationStatus) {
	c.idTagCache[idTag] = status
}

func (c *Charger) IdTagStatus(idTag string) (types.AuthorizationStatus, bool) {
	if status, ok := c.localList[idTag]; ok {
		return status, true
	}
	status, ok := c.idTagCache[idTag]
	return status, ok
}

func (c *Charger) ClearIdTagCache() {
	c.idTagCache = map[string]types.AuthorizationStatus{}
}

// ------------- Smart charging -------------

func (c *Charger) SetChargingProfile(connectorId int, profile *types.ChargingProfile) {
	c.chargingProfiles[connectorId] = profile
}

func (c *Charger) ChargingProfile(connectorId int) (*types.ChargingProfile, bool) {
	profile, ok := c.chargingProfiles[connectorId]
	return profile, ok
}

// ------------- Payload data -------------

// PayloadData completes the caller arguments of an outbound action with the
// values the charger knows about. Caller arguments always take precedence.
func (c *Charger) PayloadData(action string, args common.Args) common.Args {
	if args == nil {
		args = common.Args{}
	}
	defaults := common.Args{}
	switch action {
	case core.BootNotificationFeatureName:
		defaults["model"] = c.Model
		defaults["vendor"] = c.Vendor
		defaults["firmware"] = c.FirmwareVersion
		if c.SerialNumber != "" {
			defaults["serial_number"] = c.SerialNumber
		}
	case core.StatusNotificationFeatureName:
		connectorId := args.Int("connector_id", 0)
		defaults["connector_id"] = connectorId
		defaults["status"] = string(c.Status)
		defaults["error"] = string(c.ErrorCode)
		if connector, err := c.Connector(connectorId); err == nil {
			defaults["status"] = string(connector.Status)
			defaults["error"] = string(connector.ErrorCode)
		}
	case core.AuthorizeFeatureName:
		defaults["rfid"] = c.DefaultIdTag
	case core.StartTransactionFeatureName:
		defaults["connector_id"] = 1
		defaults["rfid"] = c.DefaultIdTag
		defaults["meter_start"] = 0
	case core.StopTransactionFeatureName, core.MeterValuesFeatureName:
		connectorId := args.Int("connector_id", 1)
		defaults["connector_id"] = connectorId
		if connector, err := c.Connector(connectorId); err == nil && connector.Transaction != nil && !connector.IsClaimed() {
			defaults["transaction_id"] = connector.Transaction.Id
			defaults["rfid"] = connector.Transaction.IdTag
			defaults["meter_stop"] = connector.Transaction.MeterStart
		}
	}
	return args.Merge(defaults)
}

// ------------- Snapshot -------------

type Snapshot struct {
	Id                  string                    `json:"id"`
	Vendor              string                    `json:"vendor"`
	Model               string                    `json:"model"`
	FirmwareVersion     string                    `json:"firmwareVersion"`
	Status              core.ChargePointStatus    `json:"status"`
	ErrorCode           core.ChargePointErrorCode `json:"errorCode"`
	Registration        core.RegistrationStatus   `json:"registration,omitempty"`
	HeartbeatInterval   int                       `json:"heartbeatInterval"`
	MeterValuesInterval int                       `json:"meterValuesInterval"`
	LocalListVersion    int                       `json:"localListVersion"`
	Features            Features                  `json:"features"`
	Connectors          []Connector               `json:"connectors"`
}

// Snapshot copies the charger state. It takes the lock and must not be
// called while holding it.
func (c *Charger) Snapshot() Snapshot {
	c.Lock()
	defer c.Unlock()
	snapshot := Snapshot{
		Id:                  c.Id,
		Vendor:              c.Vendor,
		Model:               c.Model,
		FirmwareVersion:     c.FirmwareVersion,
		Status:              c.Status,
		ErrorCode:           c.ErrorCode,
		Registration:        c.Registration,
		HeartbeatInterval:   c.HeartbeatInterval,
		MeterValuesInterval: c.MeterValuesInterval,
		LocalListVersion:    c.localListVersion,
		Features:            c.Features,
	}
	for _, connector := range c.Connectors {
		copied := *connector
		if connector.Transaction != nil {
			transaction := *connector.Transaction
			copied.Transaction = &transaction
		}
		snapshot.Connectors = append(snapshot.Connectors, copied)
	}
	return snapshot
}
