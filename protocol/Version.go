package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/lorenzodonini/ocpp-go/ocpp"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/localauth"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/reservation"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/smartcharging"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	validator "gopkg.in/go-playground/validator.v9"
)

// Version is the closed set of actions of one protocol version, grouped in
// feature profiles.
type Version struct {
	Name     string
	profiles []*ocpp.Profile
}

var V16 = NewVersion("ocpp1.6",
	core.Profile,
	firmware.Profile,
	localauth.Profile,
	remotetrigger.Profile,
	reservation.Profile,
	smartcharging.Profile,
)

func NewVersion(name string, profiles ...*ocpp.Profile) *Version {
	return &Version{Name: name, profiles: profiles}
}

func (v *Version) Feature(action string) (ocpp.Feature, bool) {
	for _, profile := range v.profiles {
		if profile.SupportsFeature(action) {
			return profile.GetFeature(action), true
		}
	}
	return nil, false
}

func (v *Version) Supports(action string) bool {
	_, ok := v.Feature(action)
	return ok
}

func (v *Version) Actions() []string {
	var actions []string
	for _, profile := range v.profiles {
		for name := range profile.Features {
			actions = append(actions, name)
		}
	}
	sort.Strings(actions)
	return actions
}

// ParseRequest decodes and validates the payload of a call.
func (v *Version) ParseRequest(action string, payload json.RawMessage) (ocpp.Request, error) {
	feature, ok := v.Feature(action)
	if !ok {
		return nil, &ValidationError{Code: NotImplemented, Action: action, Cause: fmt.Errorf("unknown action for %v", v.Name)}
	}
	value, err := parse(action, feature.GetRequestType(), payload)
	if err != nil {
		return nil, err
	}
	request, ok := value.(ocpp.Request)
	if !ok {
		return nil, &ValidationError{Code: InternalError, Action: action, Cause: fmt.Errorf("%T is not a request", value)}
	}
	return request, nil
}

// ParseResponse decodes and validates the payload of a call result.
func (v *Version) ParseResponse(action string, payload json.RawMessage) (ocpp.Response, error) {
	feature, ok := v.Feature(action)
	if !ok {
		return nil, &ValidationError{Code: NotImplemented, Action: action, Cause: fmt.Errorf("unknown action for %v", v.Name)}
	}
	value, err := parse(action, feature.GetResponseType(), payload)
	if err != nil {
		return nil, err
	}
	response, ok := value.(ocpp.Response)
	if !ok {
		return nil, &ValidationError{Code: InternalError, Action: action, Cause: fmt.Errorf("%T is not a response", value)}
	}
	return response, nil
}

func parse(action string, typ reflect.Type, payload json.RawMessage) (interface{}, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &ValidationError{Code: FormationViolation, Action: action, Cause: errors.New("payload is not a JSON object")}
	}
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	value := reflect.New(typ)
	if err := json.Unmarshal(trimmed, value.Interface()); err != nil {
		return nil, &ValidationError{Code: unmarshalCode(err), Action: action, Cause: err}
	}
	if err := types.Validate.Struct(value.Interface()); err != nil {
		return nil, &ValidationError{Code: validationCode(err), Action: action, Cause: err}
	}
	return value.Interface(), nil
}

func unmarshalCode(err error) ErrorCode {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return FormationViolation
	}
	return TypeConstraintViolation
}

func validationCode(err error) ErrorCode {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return FormationViolation
	}
	for _, fieldErr := range fieldErrors {
		if fieldErr.Tag() == "required" {
			return OccurrenceConstraintViolation
		}
	}
	return PropertyConstraintViolation
}

// Validate checks a decoded message against its action schema. Call results
// are only checked when their Action is known.
func Validate(message Message, version *Version) error {
	switch msg := message.(type) {
	case *Call:
		_, err := version.ParseRequest(msg.Action, msg.Payload)
		return err
	case *CallResult:
		if msg.Action == "" {
			return nil
		}
		_, err := version.ParseResponse(msg.Action, msg.Payload)
		return err
	case *CallError:
		if msg.ErrorCode == "" {
			return &ValidationError{Code: FormationViolation, Cause: errors.New("empty error code")}
		}
		return nil
	}
	return &ValidationError{Code: ProtocolError, Cause: fmt.Errorf("unexpected message %T", message)}
}
