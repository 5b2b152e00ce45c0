package gpnet

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// AttachCheckpoint attaches the model to the checkpoint directory dir: if it holds a checkpoint, its weights
// and hyperparameters are loaded immediately. Otherwise, it is created on the first SaveWeights.
//
// Call it before SetParams, so user provided hyperparameters take precedence over the saved ones.
func (m *GPNet) AttachCheckpoint(dir string) error {
	var err error
	m.checkpoint, err = checkpoints.
		Build(m.ctx).
		Dir(dir).
		Immediate().
		Done()
	if err != nil {
		m.checkpoint = nil
		return errors.WithMessagef(err, "failed to attach GPNet to checkpoint in %q", dir)
	}
	klog.V(1).Infof("GPNet attached to checkpoint %s", m.checkpoint.Dir())
	return nil
}

// SaveWeights saves the weights and hyperparameters to the attached checkpoint. Variables must have been
// initialized, see InitializeWeights.
func (m *GPNet) SaveWeights() error {
	if m.checkpoint == nil {
		return errors.New("GPNet has no checkpoint attached, see AttachCheckpoint")
	}
	if err := m.checkpoint.Save(); err != nil {
		return errors.WithMessagef(err, "failed to save GPNet weights to %q", m.checkpoint.Dir())
	}
	klog.Infof("GPNet weights saved to %s", m.checkpoint.Dir())
	return nil
}

// InitializeWeights materializes the model variables that were not loaded from a checkpoint, with their
// random initializers, by executing the network once on a batch of one zero image.
func (m *GPNet) InitializeWeights(backend backends.Backend) error {
	height, width, channels := m.ImageDims()
	zeros := tensors.FromShape(shapes.Make(dtypes.Float32, 1, height, width, channels))
	_, _, err := m.Predict(backend, zeros)
	return err
}

// Predict executes the network on images, shaped [batch, height, width, channels], and returns the density maps
// shaped [batch, height/8, width/8, 1] and the estimated counts, shaped [batch].
func (m *GPNet) Predict(backend backends.Backend, images *tensors.Tensor) (density, counts *tensors.Tensor, err error) {
	err = exceptions.TryCatch[error](func() {
		outputs := context.ExecOnceN(backend, m.ctx, func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
			densityMap := Forward(ctx, inputs[0], nil)
			return []*graph.Node{densityMap, CountGraph(densityMap)}
		}, images)
		density, counts = outputs[0], outputs[1]
	})
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "failed to execute GPNet on images shaped %s", images.Shape())
	}
	return density, counts, nil
}
