package builder

import "github.com/ucbrise/mage-sub001/internal/memprog"

// Value is a handle to a DSL operand: an "integer" or "bit" in the
// source specification's terms, generalized here to a single
// width-parameterized type rather than a family of compile-time
// specialized ones (spec §9, "Template-heavy front end" design note).
//
// Value is always used through a pointer; there is deliberately no
// exported way to copy one by value. The only way to duplicate the
// contents of a Value is an explicit Mutate call that emits a Copy
// instruction (spec §4.1, "Copy assignment and copy construction MUST
// be disallowed").
type Value struct {
	b      *Builder
	addr   memprog.VirtAddr
	width  uint16
	valid  bool
	sliced bool
	owner  *Value // set only when sliced: the Value whose region this borrows
}

// Width returns the value's bit width.
func (v *Value) Width() uint16 { return v.width }

// Valid reports whether v currently owns or borrows a live region.
func (v *Value) Valid() bool { return v.valid }

// Sliced reports whether v is a borrowed, non-owning view into another
// Value's region.
func (v *Value) Sliced() bool { return v.sliced }

// Address returns v's base virtual address. Panics if v is invalid,
// matching the "fatal programmer error" semantics spec §4.1 assigns to
// misuse of an invalid handle.
func (v *Value) Address() memprog.VirtAddr {
	if !v.valid {
		panic("builder: Address called on an invalid Value")
	}
	return v.addr
}
