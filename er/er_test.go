package er_test

import (
	"errors"
	"testing"

	"github.com/btcrunes/runeindexer/er"
	"github.com/stretchr/testify/require"
)

var testErrType = er.NewErrorType("er_test.testErrType")
var errFoo = testErrType.Code("errFoo")
var errBar = testErrType.Code("errBar")

func TestCodeIdentity(t *testing.T) {
	foo := errFoo.Default()
	require.True(t, errFoo.Is(foo))
	require.False(t, errBar.Is(foo))
	require.True(t, testErrType.Is(foo))
}

func TestNewHasNoCode(t *testing.T) {
	plain := er.New("boom")
	require.False(t, errFoo.Is(plain))
	require.Nil(t, testErrType.Decode(plain))
}

func TestEWrapsAndUnwraps(t *testing.T) {
	native := errors.New("native failure")
	wrapped := er.E(native)
	require.Equal(t, native, er.Wrapped(wrapped))

	asNative := er.Native(wrapped)
	roundTripped := er.E(asNative)
	require.True(t, er.Equals(wrapped, roundTripped))
}

func TestEqualsVsFuzzyEquals(t *testing.T) {
	a := er.E(errors.New("one"))
	b := er.E(errors.New("two"))
	require.False(t, er.Equals(a, b))
	require.True(t, er.FuzzyEquals(a, b))
}

func TestLoopBreak(t *testing.T) {
	require.True(t, er.IsLoopBreak(er.LoopBreak))
	require.False(t, er.IsLoopBreak(er.New("not a loop break")))
}

func TestCodeNewPreservesOuterMessage(t *testing.T) {
	inner := errFoo.New("inner detail", nil)
	outer := errBar.New("outer detail", inner)
	require.Contains(t, outer.Message(), "outer detail")
}
