package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageFormatting(t *testing.T) {
	plain := New(InvalidFile, "not a PDF")
	assert.Equal(t, "InvalidFile: not a PDF", plain.Error())

	wrapped := Wrap(StoreUnavailable, "ping failed", errors.New("dial tcp: refused"))
	assert.Equal(t, "StoreUnavailable: ping failed: dial tcp: refused", wrapped.Error())
	assert.Equal(t, "dial tcp: refused", errors.Unwrap(wrapped).Error())
}

func TestIs(t *testing.T) {
	err := New(UnknownSchema, "no such schema")
	assert.True(t, Is(err, UnknownSchema))
	assert.False(t, Is(err, NotFoundKind))
	assert.False(t, Is(errors.New("plain"), UnknownSchema))
}

func TestKindClassPredicatesArePartitioned(t *testing.T) {
	input := []Kind{InvalidFile, UploadTooLarge, UnknownSchema, InvalidState, NotFoundKind, ConflictKind}
	transient := []Kind{VisionUnavailable, VisionRateLimited, StoreUnavailable}
	terminal := []Kind{DocumentTooLarge, Unreadable, AllPagesFailedExtraction, TimeoutKind, CancelledKind}

	for _, k := range input {
		assert.True(t, k.IsInput(), "%s should be input", k)
		assert.False(t, k.IsTransient(), "%s should not be transient", k)
		assert.False(t, k.IsTerminal(), "%s should not be terminal", k)
	}
	for _, k := range transient {
		assert.True(t, k.IsTransient(), "%s should be transient", k)
		assert.False(t, k.IsInput(), "%s should not be input", k)
	}
	for _, k := range terminal {
		assert.True(t, k.IsTerminal(), "%s should be terminal", k)
		assert.False(t, k.IsInput(), "%s should not be input", k)
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 400, InvalidFile.HTTPStatus())
	assert.Equal(t, 400, InvalidState.HTTPStatus())
	assert.Equal(t, 404, NotFoundKind.HTTPStatus())
	assert.Equal(t, 409, ConflictKind.HTTPStatus())
	assert.Equal(t, 413, UploadTooLarge.HTTPStatus())
	assert.Equal(t, 422, UnknownSchema.HTTPStatus())
	assert.Equal(t, 429, VisionRateLimited.HTTPStatus())
	assert.Equal(t, 500, StoreUnavailable.HTTPStatus())
	assert.Equal(t, 500, AllPagesFailedExtraction.HTTPStatus())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Ok, Classify(nil).Variant)

	transient := Classify(New(VisionUnavailable, "timeout"))
	assert.Equal(t, Retryable, transient.Variant)
	assert.Equal(t, VisionUnavailable, transient.Kind)

	terminal := Classify(New(AllPagesFailedExtraction, "every page failed"))
	assert.Equal(t, Terminal, terminal.Variant)

	untyped := Classify(errors.New("some raw infra error"))
	assert.Equal(t, Retryable, untyped.Variant)
	assert.Equal(t, StoreUnavailable, untyped.Kind)
}

func TestStageOutcomeConstructors(t *testing.T) {
	assert.Equal(t, Ok, OkOutcome().Variant)

	r := RetryableOutcome(VisionRateLimited, errors.New("429"))
	assert.Equal(t, Retryable, r.Variant)
	assert.Equal(t, VisionRateLimited, r.Kind)

	p := PageErrorOutcome(errors.New("page 3 unreadable"))
	assert.Equal(t, PageError, p.Variant)

	term := TerminalOutcome(Unreadable, errors.New("corrupt pdf"))
	assert.Equal(t, Terminal, term.Variant)
	assert.Equal(t, Unreadable, term.Kind)
}
