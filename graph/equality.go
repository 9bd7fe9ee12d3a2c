package graph

import (
	"github.com/symtensor/symtensor/ops"
	"github.com/symtensor/symtensor/types/tensors"
)

// EqualComputations reports whether the computations as and bs are
// structurally equal when read as functions of the bound variables inA and
// inB: same operations, same wiring, same output indices, with the i-th
// bound variable of one side matching the i-th of the other.
//
// Root variables compare equal when position-matched in (inA, inB), when they
// are the same pointer (shared containers have one stable root), or when both
// are constants with equal signatures (bit-identical data: NaNs with the same
// bits are equal here even though runtime Eq follows IEEE).
//
// The walk is memoized per visited pair, so diamonds cost one visit and
// recursion goes no deeper than the graph depth.
func EqualComputations(as, bs []*Variable, inA, inB []*Variable) bool {
	if len(as) != len(bs) || len(inA) != len(inB) {
		return false
	}
	m := &matcher{
		posA: make(map[*Variable]int, len(inA)),
		posB: make(map[*Variable]int, len(inB)),
		memo: make(map[varPair]bool),
	}
	for i, v := range inA {
		m.posA[v] = i
	}
	for i, v := range inB {
		m.posB[v] = i
	}
	for i := range as {
		if !m.vars(as[i], bs[i]) {
			return false
		}
	}
	return true
}

type varPair struct {
	a, b *Variable
}

type matcher struct {
	posA, posB map[*Variable]int
	memo       map[varPair]bool
}

func (m *matcher) vars(a, b *Variable) bool {
	if a == nil || b == nil {
		return a == b
	}
	key := varPair{a, b}
	if r, ok := m.memo[key]; ok {
		return r
	}
	r := m.varsSlow(a, b)
	m.memo[key] = r
	return r
}

func (m *matcher) varsSlow(a, b *Variable) bool {
	// Bound variables match by position, before anything else: the same
	// pointer bound at different positions is two different arguments.
	ia, boundA := m.posA[a]
	ib, boundB := m.posB[b]
	if boundA || boundB {
		return boundA && boundB && ia == ib
	}
	if a == b {
		return true
	}
	if a.owner != nil && b.owner != nil {
		return a.outputIndex == b.outputIndex && m.applies(a.owner, b.owner)
	}
	if a.owner != nil || b.owner != nil {
		return false
	}
	if a.IsConstant() && b.IsConstant() {
		return a.constValue.Signature() == b.constValue.Signature() &&
			tensors.BitEqual(a.constValue, b.constValue)
	}
	// Distinct free or shared roots.
	return false
}

func (m *matcher) applies(a, b *Apply) bool {
	if a == b {
		return true
	}
	if !ops.Equal(a.Op, b.Op) || len(a.Inputs) != len(b.Inputs) {
		return false
	}
	for i := range a.Inputs {
		if !m.vars(a.Inputs[i], b.Inputs[i]) {
			return false
		}
	}
	return true
}
