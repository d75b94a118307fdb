// Package inference abstracts the neural networks used by the tracking pipeline
// behind a single capability interface. The concrete backend runs models with
// the OpenCV DNN module through GoCV.
package inference

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// ErrBadOutput is returned when a network produces a tensor that does not
// match the expected contract.
var ErrBadOutput = errors.New("inference: unexpected output tensor")

// Tensor is a dense float32 tensor copied out of a network output.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Dims returns the number of dimensions.
func (t Tensor) Dims() int {
	return len(t.Shape)
}

// Len returns the number of elements implied by the shape.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate checks the data length against the shape.
func (t Tensor) Validate() error {
	if t.Len() == 0 || t.Len() != len(t.Data) {
		return fmt.Errorf("%w: shape %v with %d values", ErrBadOutput, t.Shape, len(t.Data))
	}
	return nil
}

// Net is an inference oracle: it takes an NCHW input blob and returns the
// network's primary output.
type Net interface {
	// Forward runs one forward pass. It blocks until the backend completes.
	Forward(blob gocv.Mat) (Tensor, error)

	// SetBackendTarget selects the compute backend and target device.
	SetBackendTarget(backend gocv.NetBackendType, target gocv.NetTargetType)

	// Close releases any resources held by the network.
	Close() error
}

// TensorFromMat copies the contents of a CV_32F Mat of any dimensionality.
func TensorFromMat(m gocv.Mat) (Tensor, error) {
	if m.Empty() {
		return Tensor{}, fmt.Errorf("%w: empty output", ErrBadOutput)
	}

	if !m.IsContinuous() {
		m = m.Clone()
		defer m.Close()
	}

	data, err := m.DataPtrFloat32()
	if err != nil {
		return Tensor{}, fmt.Errorf("read output: %w", err)
	}

	t := Tensor{
		Shape: append([]int(nil), m.Size()...),
		Data:  append([]float32(nil), data...),
	}

	if err := t.Validate(); err != nil {
		return Tensor{}, err
	}

	return t, nil
}
