package binding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strategyOf[T any]() Strategy {
	return suppressorFor[T](nil, codecFor[T]()).strategy
}

func TestStrategySelection(t *testing.T) {
	assert.Equal(t, ByEquality, strategyOf[int]())
	assert.Equal(t, ByEquality, strategyOf[string]())
	assert.Equal(t, ByEquality, strategyOf[point]())
	assert.Equal(t, ByEquality, strategyOf[[]string](), "native slices compare by content")
	assert.Equal(t, ByEquality, strategyOf[map[string]int]())
	assert.Equal(t, ByEquality, strategyOf[*version](), "equality beats identity")
	assert.Equal(t, ByIdentity, strategyOf[*point]())
	assert.Equal(t, Always, strategyOf[window]())
	assert.Equal(t, Always, strategyOf[[]window]())

	custom := suppressorFor(func(a, b window) bool { return a.W == b.W }, codecFor[window]())
	assert.Equal(t, ByEquality, custom.strategy)
	assert.False(t, custom.shouldWrite(window{W: 1, Tags: []string{"x"}}, window{W: 1}))
}

func TestIdentityStrategy(t *testing.T) {
	s := suppressorFor[*point](nil, codecFor[*point]())
	p := &point{X: 1}
	q := &point{X: 1}
	assert.False(t, s.shouldWrite(p, p))
	assert.True(t, s.shouldWrite(p, q))
}

func TestEqualityMethodWithNil(t *testing.T) {
	s := suppressorFor[*version](nil, codecFor[*version]())
	assert.False(t, s.shouldWrite(&version{Major: 1}, &version{Major: 1}))
	assert.True(t, s.shouldWrite(&version{Major: 1}, nil))
	assert.False(t, s.shouldWrite(nil, nil))
}

func TestAlwaysStrategy(t *testing.T) {
	s := suppressorFor[window](nil, codecFor[window]())
	assert.True(t, s.shouldWrite(window{}, window{}))
}

func TestSafeEqualRecoversFromPanics(t *testing.T) {
	type boxed struct{ V any }
	s := suppressorFor[boxed](nil, codecFor[boxed]())
	assert.Equal(t, ByEquality, s.strategy)
	assert.True(t, s.shouldWrite(boxed{V: []int{1}}, boxed{V: []int{1}}))
	assert.False(t, s.shouldWrite(boxed{V: 1}, boxed{V: 1}))
}

func TestOptionalSuppressor(t *testing.T) {
	s := optionalSuppressor(suppressorFor[int](nil, codecFor[int]()))
	one, alsoOne, two := 1, 1, 2
	assert.False(t, s.shouldWrite(nil, nil))
	assert.True(t, s.shouldWrite(&one, nil))
	assert.True(t, s.shouldWrite(nil, &one))
	assert.False(t, s.shouldWrite(&one, &alsoOne))
	assert.True(t, s.shouldWrite(&one, &two))

	always := optionalSuppressor(suppressorFor[window](nil, codecFor[window]()))
	assert.Equal(t, Always, always.strategy)
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "equality", ByEquality.String())
	assert.Equal(t, "identity", ByIdentity.String())
	assert.Equal(t, "always", Always.String())
}
