package pipeline

import (
	"errors"
	"io"

	"github.com/m-mizutani/goerr/v2"
)

var ErrEmptyChain = goerr.New("chain needs at least one stage")

// Chain is an ordered, linked list of stages owned by one call.
type Chain struct {
	stages []Stage
}

// NewChain pipes each stage into the next. When loop is true the last stage
// is piped back into the first, closing the duplex path through a transport.
func NewChain(loop bool, stages ...Stage) (*Chain, error) {
	if len(stages) == 0 {
		return nil, ErrEmptyChain
	}
	for i := 0; i+1 < len(stages); i++ {
		stages[i].Pipe(stages[i+1])
	}
	if loop && len(stages) > 1 {
		stages[len(stages)-1].Pipe(stages[0])
	}
	return &Chain{stages: stages}, nil
}

// Head returns the first stage.
func (c *Chain) Head() Stage { return c.stages[0] }

func (c *Chain) Stages() []Stage { return c.stages }

// Close releases every stage that implements io.Closer, in chain order.
// All stages are closed even when some fail; their errors are joined.
func (c *Chain) Close() error {
	var errs []error
	for _, s := range c.stages {
		closer, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
