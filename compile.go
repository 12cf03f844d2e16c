package rebel

import "encoding/binary"

// The source is prefix-ordered (a call precedes its operands) while the VM
// wants operands on the stack before a call. The compiler reorders without
// lookahead: every call site becomes a deferred entry holding the simulated
// stack height of its first operand, and fires (emits its instruction) the
// moment its operand count is on the simulated stack. Completing an inner
// call can immediately complete an outer one, so firing cascades.

// Op is a single-byte bytecode instruction tag.
type Op = byte

const (
	opConst Op = 1 + iota
	opNone
	opWord
	opSetWord
	opLeave
	opCallNative
	opCallFunc
	opRet
)

var opNames = map[Op]string{
	opConst:      "const",
	opNone:       "none",
	opWord:       "word",
	opSetWord:    "set-word",
	opLeave:      "leave",
	opCallNative: "call-native",
	opCallFunc:   "call-func",
	opRet:        "ret",
}

type deferKind int

const (
	deferSetWord deferKind = iota
	deferCallNative
	deferCallFunc
)

// deferCall is a scheduled call: target is a binding cell, native id or
// Func descriptor address depending on kind. bp is the simulated stack
// height of the call's first operand; consume is how many operands follow
// the call token in source (arity for prefix calls, arity-1 for operator
// words, which adopt the operand already on the stack).
type deferCall struct {
	kind    deferKind
	target  Word
	bp      Word
	arity   Word
	consume Word
}

const (
	deferDepth   = 64
	codeCapacity = 1024
)

type compiler struct {
	mem      *Memory
	code     arrayStack[byte]
	defers   arrayStack[deferCall]
	stackLen Word
}

func newCompiler(mem *Memory) *compiler {
	return &compiler{
		mem:    mem,
		code:   newArrayStack[byte](codeCapacity),
		defers: newArrayStack[deferCall](deferDepth),
	}
}

func (c *compiler) emit(op Op) error { return c.code.push(op) }

func (c *compiler) emitU8(v byte) error { return c.code.push(v) }

func (c *compiler) emitU16(v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return c.code.pushAll(buf[:])
}

func (c *compiler) emitU32(v Word) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return c.code.pushAll(buf[:])
}

// schedule records a deferred call. A call token whose adopted operands are
// not on the stack yet is malformed source.
func (c *compiler) schedule(d deferCall) error {
	adopted := d.arity - d.consume
	if c.stackLen < adopted {
		return ErrStackUnderflow
	}
	d.bp = c.stackLen - adopted
	return c.defers.push(d)
}

// fire emits the instruction for a completed call and accounts for its one
// result on the simulated stack.
func (c *compiler) fire(d deferCall) error {
	var err error
	switch d.kind {
	case deferSetWord:
		if err = c.emit(opSetWord); err == nil {
			err = c.emitU32(d.target)
		}
	case deferCallNative:
		if err = c.emit(opCallNative); err == nil {
			err = c.emitU16(uint16(d.target))
		}
	case deferCallFunc:
		if err = c.emit(opCallFunc); err == nil {
			err = c.emitU32(d.target)
		}
	}
	if err != nil {
		return err
	}
	c.stackLen = d.bp + 1
	return nil
}

// fireReady cascades: while the top deferred call has all its operands on
// the simulated stack, emit it.
func (c *compiler) fireReady() error {
	for {
		d, ok := c.defers.last()
		if !ok || c.stackLen != d.bp+d.arity {
			return nil
		}
		if err := c.fire(d); err != nil {
			return err
		}
		if err := c.defers.drop(); err != nil {
			return err
		}
	}
}

func (c *compiler) emitConst(v Value) error {
	if err := c.emit(opConst); err != nil {
		return err
	}
	if err := c.emitU8(byte(v.Kind)); err != nil {
		return err
	}
	if err := c.emitU32(v.Data); err != nil {
		return err
	}
	c.stackLen++
	return nil
}

func (c *compiler) compileValue(v Value) error {
	// A word whose current binding is callable is a call site; resolve it
	// now so the arity is known at compile time.
	if v.Kind == KindWord {
		if bound, err := c.mem.GetWord(v.Data); err == nil {
			if bound.Kind == KindNativeFunc || bound.Kind == KindFunc {
				v = bound
			}
		}
	}

	switch v.Kind {
	case KindWord:
		cell, err := c.mem.BindWord(v.Data, false)
		if err != nil {
			return err
		}
		if err := c.emit(opWord); err != nil {
			return err
		}
		if err := c.emitU32(cell); err != nil {
			return err
		}
		c.stackLen++
		return nil

	case KindSetWord:
		cell, err := c.mem.BindWord(v.Data, true)
		if err != nil {
			return err
		}
		return c.schedule(deferCall{
			kind: deferSetWord, target: cell, arity: 1, consume: 1,
		})

	case KindNativeFunc:
		nf, err := getAt[NativeFunc](c.mem, v.Data)
		if err != nil {
			return err
		}
		return c.schedule(deferCall{
			kind:    deferCallNative,
			target:  Word(nf.ID),
			arity:   Word(nf.Arity),
			consume: Word(nf.Consume),
		})

	case KindFunc:
		fn, err := getAt[Func](c.mem, v.Data)
		if err != nil {
			return err
		}
		return c.schedule(deferCall{
			kind:    deferCallFunc,
			target:  v.Data,
			arity:   fn.Arity,
			consume: fn.Arity,
		})

	default:
		return c.emitConst(v)
	}
}

// compile walks a parsed block and produces the bytecode that leaves
// exactly one result on the operand stack.
func (c *compiler) compile(block Series[Value]) (Series[byte], error) {
	length, err := Len(c.mem, block)
	if err != nil {
		return Series[byte]{}, err
	}

	for i := Word(0); i < length; i++ {
		if err := c.fireReady(); err != nil {
			return Series[byte]{}, err
		}
		v, err := Get(c.mem, block, i)
		if err != nil {
			return Series[byte]{}, err
		}
		if err := c.compileValue(v); err != nil {
			return Series[byte]{}, err
		}
	}

	// Flush the still-pending calls as if more source were present but
	// carried no new operands.
	for {
		d, ok := c.defers.last()
		if !ok {
			break
		}
		if err := c.fire(d); err != nil {
			return Series[byte]{}, err
		}
		if err := c.defers.drop(); err != nil {
			return Series[byte]{}, err
		}
	}

	// Fix the stack so one result remains.
	switch {
	case c.stackLen == 0:
		if err := c.emit(opNone); err != nil {
			return Series[byte]{}, err
		}
	case c.stackLen == 1:
	default:
		if err := c.emit(opLeave); err != nil {
			return Series[byte]{}, err
		}
		if err := c.emitU8(byte(c.stackLen)); err != nil {
			return Series[byte]{}, err
		}
	}
	if err := c.emit(opRet); err != nil {
		return Series[byte]{}, err
	}

	return AllocItems(c.mem, c.code.data)
}

// getBinding compiles a block exactly once, storing the code address on the
// block itself so bodies reused by loops and calls compile a single time.
func getBinding(mem *Memory, block Series[Value]) (Series[byte], error) {
	cached, err := mem.bindings(block)
	if err != nil {
		return Series[byte]{}, err
	}
	if cached != 0 {
		return Series[byte]{cached}, nil
	}
	code, err := newCompiler(mem).compile(block)
	if err != nil {
		return Series[byte]{}, err
	}
	if err := mem.setBindings(block, code.Addr()); err != nil {
		return Series[byte]{}, err
	}
	return code, nil
}
