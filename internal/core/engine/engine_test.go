package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmill/docmill/internal/core/job"
	"github.com/docmill/docmill/internal/core/pipeline"
)

func TestClassify(t *testing.T) {
	ce := Classify(context.DeadlineExceeded, "took too long")
	assert.Equal(t, KindTimeout, ce.Kind)

	ce = Classify(context.Canceled, "stopped")
	assert.Equal(t, KindCancelled, ce.Kind)

	ce = Classify(errors.New("broke"), "conversion failed")
	assert.Equal(t, KindBackend, ce.Kind)
	assert.Equal(t, "conversion failed", ce.Message)

	// An already-classified error passes through untouched.
	orig := NewError(KindResourceExhausted, "oom", nil)
	ce = Classify(orig, "ignored")
	assert.Same(t, orig, ce)

	// Including when wrapped.
	ce = Classify(fmtWrap(orig), "ignored")
	assert.Same(t, orig, ce)
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("attempt 2"), err)
}

func TestConvertError(t *testing.T) {
	cause := errors.New("exit status 1")
	ce := NewError(KindBackend, "docling crashed", cause)
	assert.Contains(t, ce.Error(), "backend_error")
	assert.Contains(t, ce.Error(), "docling crashed")
	require.ErrorIs(t, ce, cause)

	bare := NewError(KindTimeout, "deadline", nil)
	assert.Equal(t, "timeout: deadline", bare.Error())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get(pipeline.Standard)
	require.Error(t, err)

	c := stubConv("a")
	r.Register(c, pipeline.Standard, pipeline.VLM)

	got, err := r.Get(pipeline.Standard)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	assert.ElementsMatch(t, []pipeline.Kind{pipeline.Standard, pipeline.VLM}, r.Kinds())

	// Re-registration replaces.
	c2 := stubConv("b")
	r.Register(c2, pipeline.Standard)
	got, err = r.Get(pipeline.Standard)
	require.NoError(t, err)
	assert.Equal(t, c2, got)
}

type stubConv string

func (s stubConv) Name() string { return string(s) }

func (s stubConv) Convert(context.Context, string, pipeline.Kind, job.Options) (string, error) {
	return "", nil
}
