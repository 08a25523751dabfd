package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fqdnguard/fqdnguard/config"
)

type dumb struct{}

func (d *dumb) Name() string { return "dumb" }

func (d *dumb) ServeDNS(ctx context.Context, ch *Chain) {}

func Test_Middleware(t *testing.T) {
	assert.Nil(t, Get("dumb"))

	Register("dumb", func(cfg *config.Config) Handler { return &dumb{} })

	assert.Equal(t, []string{"dumb"}, List())
	assert.Nil(t, Get("dumb"))

	cfg := new(config.Config)
	assert.NoError(t, Setup(cfg))
	assert.Error(t, Setup(cfg))

	assert.NotNil(t, Get("dumb"))
	assert.Nil(t, Get("nothing"))

	assert.Len(t, Handlers(), 1)
}
