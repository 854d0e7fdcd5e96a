package gateway

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/inbound.json
var inboundSchemaJSON []byte

var ErrInvalidMessage = errors.New("invalid message")

type messageValidator struct {
	schema *jsonschema.Schema
}

func newMessageValidator() (*messageValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inbound.json", bytes.NewReader(inboundSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add inbound schema: %w", err)
	}
	schema, err := compiler.Compile("inbound.json")
	if err != nil {
		return nil, fmt.Errorf("compile inbound schema: %w", err)
	}
	return &messageValidator{schema: schema}, nil
}

// decode validates raw against the inbound schema and unmarshals it.
func (v *messageValidator) decode(raw []byte) (inboundMessage, error) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return inboundMessage{}, fmt.Errorf("%w: malformed JSON", ErrInvalidMessage)
	}
	if err := v.schema.Validate(instance); err != nil {
		var validation *jsonschema.ValidationError
		if errors.As(err, &validation) {
			return inboundMessage{}, fmt.Errorf("%w: %s", ErrInvalidMessage, leafMessage(validation))
		}
		return inboundMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return inboundMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

// leafMessage returns the most specific cause of a validation failure.
func leafMessage(err *jsonschema.ValidationError) string {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	location := err.InstanceLocation
	if location == "" {
		location = "/"
	}
	return location + ": " + err.Message
}
