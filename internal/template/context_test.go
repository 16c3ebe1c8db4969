package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewContext(t *testing.T) {
	ctx := NewContext()
	assert.NotNil(t, ctx.Args)
	assert.NotNil(t, ctx.Config)
	assert.NotNil(t, ctx.Request.Headers)
	assert.NotNil(t, ctx.Request.Query)
	assert.NotNil(t, ctx.Request.Path)
	assert.NotNil(t, ctx.Request.Body)
	assert.Nil(t, ctx.Response.Data)
	assert.NotNil(t, ctx.Env)
}
