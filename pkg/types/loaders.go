package types

import (
	"context"
)

type Gpu_loaders interface {
	Close()
	Run(context.Context, string) <-chan *Batch
}
