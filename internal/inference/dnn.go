package inference

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// ErrModelNotFound is returned when the model file does not exist.
var ErrModelNotFound = errors.New("model file not found")

// DNNNet runs a model with the OpenCV DNN module. ONNX, Caffe, TensorFlow and
// Darknet models are supported, selected by file extension.
type DNNNet struct {
	net       gocv.Net
	modelPath string
	mu        sync.Mutex
}

// LoadDNN reads a network from modelPath. configPath is the optional companion
// file (for example a Caffe prototxt) and may be empty.
func LoadDNN(modelPath, configPath string) (*DNNNet, error) {
	if err := checkFile(modelPath); err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := checkFile(configPath); err != nil {
			return nil, err
		}
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("read network %s: model is empty or corrupt", modelPath)
	}

	return &DNNNet{
		net:       net,
		modelPath: modelPath,
	}, nil
}

func checkFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrModelNotFound, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("model path %s is a directory", path)
	}
	return nil
}

// Forward runs the network on the given blob.
func (d *DNNNet) Forward(blob gocv.Mat) (Tensor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if blob.Empty() {
		return Tensor{}, errors.New("forward: empty input blob")
	}

	d.net.SetInput(blob, "")

	out := d.net.Forward("")
	defer out.Close()

	t, err := TensorFromMat(out)
	if err != nil {
		return Tensor{}, fmt.Errorf("forward %s: %w", d.modelPath, err)
	}

	return t, nil
}

// SetBackendTarget sets the preferable backend and target of the network.
func (d *DNNNet) SetBackendTarget(backend gocv.NetBackendType, target gocv.NetTargetType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.net.SetPreferableBackend(backend)
	d.net.SetPreferableTarget(target)
}

// ModelPath returns the path the network was loaded from.
func (d *DNNNet) ModelPath() string {
	return d.modelPath
}

// Close releases the network.
func (d *DNNNet) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
