package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that serializes as a Go duration string ("15m")
// and also accepts a number of seconds when decoding.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if d == 0 {
		return []byte(`""`), nil
	}

	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case string:
		if v == "" {
			*d = 0

			return nil
		}

		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}

		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}

	return nil
}
