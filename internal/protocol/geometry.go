package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Geometry is the column/row size of a terminal surface.
type Geometry struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Valid reports whether both dimensions are positive.
func (g Geometry) Valid() bool {
	return g.Cols > 0 && g.Rows > 0
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Cols, g.Rows)
}

// EncodeGeometry returns the payload of a geometry frame,
// e.g. {"cols":80,"rows":24}.
func EncodeGeometry(g Geometry) ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry: %w", err)
	}
	return data, nil
}

// DecodeGeometry parses a geometry payload. Unknown fields are ignored so
// winsize-shaped objects ({"rows":..,"cols":..,"x":..,"y":..}) are accepted.
func DecodeGeometry(payload []byte) (Geometry, error) {
	if !gjson.ValidBytes(payload) {
		return Geometry{}, fmt.Errorf("%w: malformed json", ErrInvalidGeometry)
	}
	res := gjson.GetManyBytes(payload, "cols", "rows")
	for i, name := range []string{"cols", "rows"} {
		if res[i].Type != gjson.Number {
			return Geometry{}, fmt.Errorf("%w: %s is not a number", ErrInvalidGeometry, name)
		}
	}
	return Geometry{Cols: int(res[0].Int()), Rows: int(res[1].Int())}, nil
}
