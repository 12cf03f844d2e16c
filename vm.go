package rebel

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidCode = errors.New("invalid code")
)

// codeError reports the offending opcode byte when the VM trips on a
// corrupt instruction stream.
type codeError byte

func (c codeError) Error() string { return fmt.Sprintf("invalid code %d", byte(c)) }
func (codeError) Unwrap() error   { return ErrInvalidCode }

// NativeFunc is the arena-resident descriptor of an intrinsic: id indexes
// the host-side function table, arity is how many operands the call uses
// and consume how many appear after the call token in source.
type NativeFunc struct {
	ID          uint16
	Arity       uint8
	Consume     uint8
	Description Address
}

const nativeFuncSize = 8

// Func describes a user function: the parameter count, the parameter block
// and the precompiled body bytecode.
type Func struct {
	Arity  Word
	Params Address
	Body   Address
}

const funcSize = 12

// NativeFn is a host function dispatched by CALL_NATIVE. It pops its own
// operands and pushes its one result. Function pointers cannot live in the
// arena, so the Vm keeps this table beside it, indexed by descriptor id.
type NativeFn func(p *Process) error

type nativeDef struct {
	name        string
	description string
	fn          NativeFn
	arity       uint8
	consume     uint8
}

// Operator words adopt their left operand from the stack, so they consume
// one fewer operand than their arity.
var stdNatives = []nativeDef{
	{"add", "sum of two integers", nativeAdd, 2, 2},
	{"lt", "true when the first integer is below the second", nativeLt, 2, 2},
	{"either", "pick and run one of two blocks on a condition", nativeEither, 3, 3},
	{"func", "build a function from a parameter block and a body", nativeFunc, 2, 2},
	{"+", "sum of two integers", nativeAdd, 2, 1},
	{"<", "true when the first integer is below the second", nativeLt, 2, 1},
}

// Vm owns the arena and the native-function table. It is strictly a
// single-threaded machine: one Process at a time mutates it.
type Vm struct {
	logging

	mem     *Memory
	natives []NativeFn
}

const defaultMemSize = 64 * 1024

// NewVm builds an arena of the given size and registers the intrinsics.
func NewVm(memSize int) (*Vm, error) {
	mem, err := NewMemory(memSize)
	if err != nil {
		return nil, err
	}
	vm := &Vm{mem: mem}
	if err := vm.registerNatives(stdNatives); err != nil {
		return nil, err
	}
	return vm, nil
}

// Memory exposes the arena, mostly for inspection and tests.
func (vm *Vm) Memory() *Memory { return vm.mem }

func (vm *Vm) registerNatives(defs []nativeDef) error {
	table, err := Alloc[NativeFunc](vm.mem, Word(len(defs)))
	if err != nil {
		return err
	}
	for _, def := range defs {
		sym, err := vm.mem.GetOrAddSymbol(def.name)
		if err != nil {
			return err
		}
		desc, err := vm.mem.AllocString(def.description)
		if err != nil {
			return err
		}
		id := uint16(len(vm.natives))
		vm.natives = append(vm.natives, def.fn)

		count, err := Len(vm.mem, table)
		if err != nil {
			return err
		}
		addr := dataAddr(table, count)
		nf := NativeFunc{ID: id, Arity: def.arity, Consume: def.consume, Description: desc.Addr()}
		if err := Push(vm.mem, table, nf); err != nil {
			return err
		}
		if err := vm.mem.SetWord(sym.Addr(), Value{KindNativeFunc, addr}); err != nil {
			return err
		}
	}
	return nil
}

// ParseBlock parses source into a value block rooted in the arena.
func (vm *Vm) ParseBlock(src string) (Value, error) {
	collector := newParseCollector(vm.mem)
	if err := ParseBlock(src, collector); err != nil {
		return None(), err
	}
	return collector.result()
}

const (
	stackDepth = 64
	callDepth  = 64

	// haltIP marks the bottom of the call stack; RET popping it stops the
	// machine.
	haltIP Address = 0
)

// Process executes compiled bytecode against a Vm. The operand stack and
// the call-return stack are transient, bounded buffers.
type Process struct {
	vm    *Vm
	ip    Address
	stack arrayStack[Value]
	calls arrayStack[Address]
}

func NewProcess(vm *Vm) *Process {
	return &Process{
		vm:    vm,
		stack: newArrayStack[Value](stackDepth),
		calls: newArrayStack[Address](callDepth),
	}
}

// Memory returns the arena the process runs against.
func (p *Process) Memory() *Memory { return p.vm.mem }

// Compile translates a parsed block to bytecode, reusing the code cached
// on the block when it was compiled before.
func (p *Process) Compile(block Series[Value]) (Series[byte], error) {
	return getBinding(p.vm.mem, block)
}

// Call pushes the current instruction pointer and jumps to the first byte
// of code; natives use it to run a block argument in place.
func (p *Process) Call(code Series[byte]) error {
	if err := p.calls.push(p.ip); err != nil {
		return err
	}
	p.ip = code.Addr() + blockHeaderSize
	return nil
}

func (p *Process) readU8() (byte, error) {
	data, err := p.vm.mem.bytes(p.ip, 1)
	if err != nil {
		return 0, err
	}
	p.ip++
	return data[0], nil
}

func (p *Process) readU16() (uint16, error) {
	data, err := p.vm.mem.bytes(p.ip, 2)
	if err != nil {
		return 0, err
	}
	p.ip += 2
	return uint16(data[0]) | uint16(data[1])<<8, nil
}

func (p *Process) readU32() (Word, error) {
	data, err := p.vm.mem.bytes(p.ip, 4)
	if err != nil {
		return 0, err
	}
	p.ip += 4
	return Word(data[0]) | Word(data[1])<<8 | Word(data[2])<<16 | Word(data[3])<<24, nil
}

// Exec runs a compiled block and returns its result value.
func (p *Process) Exec(code Series[byte]) (Value, error) {
	if err := p.calls.push(haltIP); err != nil {
		return None(), err
	}
	p.ip = code.Addr() + blockHeaderSize

	for p.ip != haltIP {
		op, err := p.readU8()
		if err != nil {
			return None(), err
		}
		if p.vm.logfn != nil {
			p.vm.logf("@", "%v s:%v r:%v", opNames[op], p.stack.len(), p.calls.len())
		}
		if err := p.step(op); err != nil {
			return None(), err
		}
	}
	return p.stack.pop()
}

func (p *Process) step(op Op) error {
	mem := p.vm.mem
	switch op {
	case opConst:
		kind, err := p.readU8()
		if err != nil {
			return err
		}
		if Kind(kind) >= kindMax {
			return ErrInvalidTag
		}
		data, err := p.readU32()
		if err != nil {
			return err
		}
		return p.stack.push(Value{Kind(kind), data})

	case opNone:
		return p.stack.push(None())

	case opWord:
		cell, err := p.readU32()
		if err != nil {
			return err
		}
		v, err := mem.cellValue(cell)
		if err != nil {
			return err
		}
		return p.stack.push(v)

	case opSetWord:
		cell, err := p.readU32()
		if err != nil {
			return err
		}
		v, ok := p.stack.last()
		if !ok {
			return ErrStackUnderflow
		}
		return mem.setCellValue(cell, v)

	case opLeave:
		n, err := p.readU8()
		if err != nil {
			return err
		}
		return p.stack.nip(int(n))

	case opCallNative:
		id, err := p.readU16()
		if err != nil {
			return err
		}
		if int(id) >= len(p.vm.natives) {
			return codeError(op)
		}
		return p.vm.natives[id](p)

	case opCallFunc:
		addr, err := p.readU32()
		if err != nil {
			return err
		}
		return p.enterFunc(addr)

	case opRet:
		addr, err := p.calls.pop()
		if err != nil {
			return err
		}
		p.ip = addr
		return nil
	}
	return codeError(op)
}

// enterFunc binds the operands to the parameter symbols left to right, then
// jumps into the precompiled body. Bindings are plain word bindings: the
// body closes over the caller's words and parameters shadow them for good.
func (p *Process) enterFunc(addr Address) error {
	mem := p.vm.mem
	fn, err := getAt[Func](mem, addr)
	if err != nil {
		return err
	}
	args, err := p.stack.popN(int(fn.Arity))
	if err != nil {
		return err
	}
	params := Series[Value]{fn.Params}
	for i := Word(0); i < fn.Arity; i++ {
		param, err := Get(mem, params, i)
		if err != nil {
			return err
		}
		sym, err := param.Symbol()
		if err != nil {
			return err
		}
		if err := mem.SetWord(sym.Addr(), args[i]); err != nil {
			return err
		}
	}
	return p.Call(Series[byte]{fn.Body})
}

//// Intrinsics

func addChecked(a, b int32) (int32, error) {
	sum := int64(a) + int64(b)
	if sum > math.MaxInt32 || sum < math.MinInt32 {
		return 0, ErrIntegerOverflow
	}
	return int32(sum), nil
}

func nativeAdd(p *Process) error {
	args, err := p.stack.popN(2)
	if err != nil {
		return err
	}
	a, err := args[0].AsInt()
	if err != nil {
		return err
	}
	b, err := args[1].AsInt()
	if err != nil {
		return err
	}
	sum, err := addChecked(a, b)
	if err != nil {
		return err
	}
	return p.stack.push(Int(sum))
}

func nativeLt(p *Process) error {
	args, err := p.stack.popN(2)
	if err != nil {
		return err
	}
	a, err := args[0].AsInt()
	if err != nil {
		return err
	}
	b, err := args[1].AsInt()
	if err != nil {
		return err
	}
	return p.stack.push(Bool(a < b))
}

// nativeEither picks one of two block operands on a condition and runs its
// cached bytecode in place; the block's own result becomes either's result.
func nativeEither(p *Process) error {
	args, err := p.stack.popN(3)
	if err != nil {
		return err
	}
	cond, thenV, elseV := args[0], args[1], args[2]
	picked := elseV
	if cond.IsTruthy() {
		picked = thenV
	}
	block, err := picked.AsBlock()
	if err != nil {
		return err
	}
	code, err := p.Compile(block)
	if err != nil {
		return err
	}
	return p.Call(code)
}

// nativeFunc builds a Func descriptor from a parameter block and a body
// block, compiling the body once up front.
func nativeFunc(p *Process) error {
	mem := p.vm.mem
	args, err := p.stack.popN(2)
	if err != nil {
		return err
	}
	params, err := args[0].AsBlock()
	if err != nil {
		return err
	}
	body, err := args[1].AsBlock()
	if err != nil {
		return err
	}
	arity, err := Len(mem, params)
	if err != nil {
		return err
	}
	// Parameter cells must exist before the body compiles: a word in the
	// body resolves to its binding cell at compile time.
	for i := Word(0); i < arity; i++ {
		param, err := Get(mem, params, i)
		if err != nil {
			return err
		}
		sym, err := param.Symbol()
		if err != nil {
			return err
		}
		if _, err := mem.BindWord(sym.Addr(), true); err != nil {
			return err
		}
	}
	code, err := p.Compile(body)
	if err != nil {
		return err
	}
	desc, err := AllocItems(mem, []Func{{
		Arity:  arity,
		Params: params.Addr(),
		Body:   code.Addr(),
	}})
	if err != nil {
		return err
	}
	return p.stack.push(Value{KindFunc, dataAddr(desc, 0)})
}
