package loaders

import (
	"errors"

	"github.com/ALEYI17/InfraSight_gpuprof/pkg/types"
)

var ErrUnknownLoader = errors.New("Unsuported or unknow program")

func NewEbpfGpuLoaders(program, pin string, handler EventHandler, collectors ...types.Gpu_collectors) (types.Gpu_loaders, error) {

	switch program {
	case types.LoaderRingbuf:
		l, err := NewRingbufLoader(pin, handler, collectors...)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, ErrUnknownLoader
	}
}
