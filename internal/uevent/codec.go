package uevent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Format selects the wire encoding of an Event.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// encMode is the CBOR encoder mode for events.
var encMode cbor.EncMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}
}

// ParseFormat converts a config string to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", string(FormatJSON):
		return FormatJSON, nil
	case string(FormatCBOR):
		return FormatCBOR, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Marshal encodes ev in the requested format.
func Marshal(ev Event, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.Marshal(ev)
	case FormatCBOR:
		return encMode.Marshal(ev)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Unmarshal decodes data produced by Marshal.
func Unmarshal(data []byte, format Format, ev *Event) error {
	switch format {
	case FormatJSON, "":
		return json.Unmarshal(data, ev)
	case FormatCBOR:
		return cbor.Unmarshal(data, ev)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
