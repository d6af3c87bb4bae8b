// api/schemas/json.go
package schemas

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json is a drop-in replacement for encoding/json used across the schema package.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// typeEnvelope is used to peek at the discriminator of a tagged JSON object
// before decoding it into its concrete variant.
type typeEnvelope struct {
	Type string `json:"type"`
}

// peekType returns the "type" discriminator of a raw JSON object.
func peekType(raw []byte) (string, error) {
	var env typeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("invalid tagged object: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("tagged object is missing the \"type\" field")
	}
	return env.Type, nil
}

// Duration wraps time.Duration so instruction files can express waits either
// as a number of milliseconds or as a Go duration string ("1.5s").
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*d = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(str)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", str, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("invalid duration %s: %w", s, err)
	}
	*d = Duration(time.Duration(ms * float64(time.Millisecond)))
	return nil
}

// MarshalJSON encodes the duration as milliseconds.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }
