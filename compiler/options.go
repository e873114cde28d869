package compiler

import (
	"runtime"

	"go.uber.org/zap"
)

// Option configures the compiler.
type Option func(*compiler)

// WithConcurrency bounds the number of methods Compile lowers at the same
// time. Values lower than one mean GOMAXPROCS.
func WithConcurrency(n int) Option {
	return func(c *compiler) { c.concurrency = n }
}

// WithLogger sets the logger used instead of the package logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *compiler) { c.log = log }
}

type compiler struct {
	concurrency int
	log         *zap.Logger
}

func newCompiler(options []Option) *compiler {
	c := &compiler{log: Logger()}
	for _, option := range options {
		option(c)
	}
	if c.concurrency < 1 {
		c.concurrency = runtime.GOMAXPROCS(0)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}
