package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateHashStable(t *testing.T) {
	a := Obj(O("count", IRInt(2)), O("name", IRString("x")))
	b := Obj(O("name", IRString("x")), O("count", IRInt(2)))

	assert.Equal(t, StateHash(a), StateHash(b))
	assert.Len(t, StateHash(a), 64)
	assert.NotEqual(t, StateHash(a), StateHash(Obj(O("count", IRInt(3)))))
}

func TestStateHashDomainSeparation(t *testing.T) {
	v := Arr(IRString("count"))

	assert.NotEqual(t, StateHash(v), QueryKey(NewEvent("count")),
		"same bytes under different domains must not collide")
}

func TestQueryKeyStructural(t *testing.T) {
	k1 := QueryKey(NewEvent("visible-todos", Obj(O("filter", IRString("done")))))
	k2 := QueryKey(NewEvent("visible-todos", Obj(O("filter", IRString("done")))))
	k3 := QueryKey(NewEvent("visible-todos", Obj(O("filter", IRString("all")))))

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestHashWithDomainBoundary(t *testing.T) {
	assert.NotEqual(t, hashWithDomain("d", []byte("x")), hashWithDomain("dx", nil))
}

func TestProgramHash(t *testing.T) {
	p := &Program{
		Name: "counter",
		DB:   Obj(O("count", IRInt(0))),
		Init: []Event{NewEvent("initialize")},
		Events: map[string]EventSpec{
			"increment": {ID: "increment", Kind: KindDB, Ops: []Op{{Op: OpInc, Path: "count"}}},
		},
	}
	h1, err := ProgramHash(p)
	require.NoError(t, err)
	h2, err := ProgramHash(p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	p.Events["increment"] = EventSpec{ID: "increment", Kind: KindDB, Ops: []Op{{Op: OpInc, Path: "count", By: 2}}}
	h3, err := ProgramHash(p)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
