package gpnet

import (
	"image"
	"runtime"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// LoadImages reads the image files in parallel, resizes them to the model's configured image dimensions,
// and returns them as a batch tensor shaped [len(paths), height, width, channels]. See ImagesToTensor.
func (m *GPNet) LoadImages(backend backends.Backend, paths ...string) (*tensors.Tensor, error) {
	imgs := make([]image.Image, len(paths))
	var eg errgroup.Group
	eg.SetLimit(runtime.NumCPU())
	for ii, path := range paths {
		eg.Go(func() error {
			img, err := imaging.Open(path, imaging.AutoOrientation(true))
			if err != nil {
				return errors.Wrapf(err, "failed to load image %q", path)
			}
			imgs[ii] = img
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	height, width, channels := m.ImageDims()
	return ImagesToTensor(backend, imgs, height, width, channels)
}

// ImagesToTensor resizes the images to height x width and converts them to a float32 tensor shaped
// [len(imgs), height, width, channels], with values from 0 to 1.
//
// channels must be 3 (RGB) or 1 (grayscale). Alpha is ignored.
func ImagesToTensor(backend backends.Backend, imgs []image.Image, height, width, channels int) (*tensors.Tensor, error) {
	if channels != 1 && channels != 3 {
		return nil, errors.Errorf("images can only be converted to 1 or 3 channels, got %d", channels)
	}
	if len(imgs) == 0 {
		return nil, errors.New("no images to convert")
	}
	resized := make([]image.Image, len(imgs))
	var eg errgroup.Group
	eg.SetLimit(runtime.NumCPU())
	for ii, img := range imgs {
		eg.Go(func() error {
			nrgba := imaging.Resize(img, width, height, imaging.Lanczos)
			if channels == 1 {
				nrgba = imaging.Grayscale(nrgba)
			}
			resized[ii] = nrgba
			return nil
		})
	}
	_ = eg.Wait()

	t := images.ToTensor(dtypes.Float32).MaxValue(1.0).Batch(resized)
	if channels == 1 {
		// Grayscale images have equal RGB values: keep the first.
		t = ExecOnce(backend, func(x *Node) *Node {
			return SliceAxis(x, 3, AxisRange(0, 1))
		}, t)
	}
	return t, nil
}
