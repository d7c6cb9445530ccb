package anomaly

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
)

// StandardScaler centers each feature on its mean and divides by its
// population standard deviation. Constant features keep a scale of 1.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

func (s *StandardScaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return errors.New("scaler: empty training set")
	}
	dims := len(X[0])
	mean := make([]float64, dims)
	for _, row := range X {
		if len(row) != dims {
			return fmt.Errorf("scaler: inconsistent row width %d, want %d", len(row), dims)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(X))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, dims)
	for _, row := range X {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}

	s.Mean = mean
	s.Scale = scale
	return nil
}

func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler: got %d features, fitted on %d", len(x), len(s.Mean))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

func (s *StandardScaler) Fitted() bool {
	return len(s.Mean) > 0
}

func (s *StandardScaler) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	type plain StandardScaler
	if err := gob.NewEncoder(&buf).Encode((*plain)(s)); err != nil {
		return nil, fmt.Errorf("encode scaler: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *StandardScaler) UnmarshalBinary(data []byte) error {
	type plain StandardScaler
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode((*plain)(s)); err != nil {
		return fmt.Errorf("decode scaler: %w", err)
	}
	if len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("decode scaler: mean/scale length mismatch")
	}
	return nil
}
