package rebel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type vmTestCases []vmTestCase

func (vmts vmTestCases) run(t *testing.T) {
	for _, vmt := range vmts {
		if !t.Run(vmt.name, vmt.run) {
			return
		}
	}
}

func vmTest(name string) (vmt vmTestCase) {
	vmt.name = name
	return vmt
}

// vmTestCase evaluates any setup sources, then the case source, on a shared
// Vm, checking the result value and the machine's stack discipline.
type vmTestCase struct {
	name    string
	setup   []string
	src     string
	expect  []func(t *testing.T, vm *Vm, result Value)
	wantErr error
}

func (vmt vmTestCase) withSetup(srcs ...string) vmTestCase {
	vmt.setup = append(vmt.setup, srcs...)
	return vmt
}

func (vmt vmTestCase) source(src string) vmTestCase {
	vmt.src = src
	return vmt
}

func (vmt vmTestCase) expectResult(want Value) vmTestCase {
	vmt.expect = append(vmt.expect, func(t *testing.T, vm *Vm, result Value) {
		assert.Equal(t, want, result, "expected result value")
	})
	return vmt
}

func (vmt vmTestCase) expectInt(want int32) vmTestCase {
	return vmt.expectResult(Int(want))
}

func (vmt vmTestCase) expectKind(want Kind) vmTestCase {
	vmt.expect = append(vmt.expect, func(t *testing.T, vm *Vm, result Value) {
		assert.Equal(t, want, result.Kind, "expected result kind")
	})
	return vmt
}

func (vmt vmTestCase) expectForm(want string) vmTestCase {
	vmt.expect = append(vmt.expect, func(t *testing.T, vm *Vm, result Value) {
		text, err := vm.Memory().Form(result)
		if assert.NoError(t, err) {
			assert.Equal(t, want, text, "expected formed result")
		}
	})
	return vmt
}

func (vmt vmTestCase) expectError(err error) vmTestCase {
	vmt.wantErr = err
	return vmt
}

func (vmt vmTestCase) run(t *testing.T) {
	vm := newTestVm(t)
	for _, src := range vmt.setup {
		if _, err := vm.Eval(src); !assert.NoError(t, err, "setup %q", src) {
			return
		}
	}

	root, err := vm.ParseBlock(vmt.src)
	if vmt.wantErr != nil && err != nil {
		assert.True(t, errors.Is(err, vmt.wantErr), "expected %v, got %+v", vmt.wantErr, err)
		return
	}
	if !assert.NoError(t, err, "parse") {
		return
	}
	block, err := root.AsBlock()
	if !assert.NoError(t, err) {
		return
	}

	proc := NewProcess(vm)
	code, err := proc.Compile(block)
	if vmt.wantErr != nil && err != nil {
		assert.True(t, errors.Is(err, vmt.wantErr), "expected %v, got %+v", vmt.wantErr, err)
		return
	}
	if !assert.NoError(t, err, "compile") {
		return
	}

	result, err := proc.Exec(code)
	if vmt.wantErr != nil {
		assert.True(t, errors.Is(err, vmt.wantErr), "expected %v, got %+v", vmt.wantErr, err)
		return
	}
	if !assert.NoError(t, err, "exec") {
		return
	}

	assert.Equal(t, 0, proc.stack.len(), "operand stack drained after the result")
	for _, expect := range vmt.expect {
		expect(t, vm, result)
	}
}

func TestExecScenarios(t *testing.T) {
	vmTestCases{
		vmTest("last value wins").
			source("1 2 3").
			expectInt(3),
		vmTest("chained assignment").
			source("x: y: 42 z: 5 y").
			expectInt(42),
		vmTest("nested prefix calls").
			source("add add 7 8 10").
			expectInt(25),
		vmTest("operator form").
			source("5 + 5").
			expectInt(10),
		vmTest("either true branch").
			source("either 5 < 10 [42] [24]").
			expectInt(42),
		vmTest("either false branch").
			source("either 15 < 1 [42] [22 7 + 8]").
			expectInt(15),
	}.run(t)
}

func TestExecBasics(t *testing.T) {
	vmTestCases{
		vmTest("empty source yields none").
			source("").
			expectResult(None()),
		vmTest("set word result").
			source("x: 7 x").
			expectInt(7),
		vmTest("set word is the expression result").
			source("x: 9").
			expectInt(9),
		vmTest("string round trip").
			source(`s: "hi" s`).
			expectKind(KindString).
			expectForm("hi"),
		vmTest("comparison result").
			source("1 < 2").
			expectResult(Bool(true)),
		vmTest("block stays data").
			source("[1 2 3]").
			expectKind(KindBlock).
			expectForm("1 2 3"),
		vmTest("get word stays data").
			source(":x").
			expectKind(KindGetWord),
	}.run(t)
}

func TestExecFunctions(t *testing.T) {
	vmTestCases{
		vmTest("definition yields a func").
			source("func [n] [n + n]").
			expectKind(KindFunc),
		vmTest("single parameter").
			withSetup("double: func [n] [n + n]").
			source("double 21").
			expectInt(42),
		vmTest("two parameters").
			withSetup("mix: func [a b] [add a b]").
			source("mix 1 2").
			expectInt(3),
		vmTest("parameters bind left to right").
			withSetup("second: func [a b] [b]").
			source("second 1 2").
			expectInt(2),
		vmTest("nested call sites").
			withSetup("double: func [n] [n + n]").
			source("double double 5").
			expectInt(20),
		vmTest("body sees caller words").
			withSetup("base: 100", "bump: func [n] [base + n]").
			source("bump 7").
			expectInt(107),
	}.run(t)
}

func TestExecErrors(t *testing.T) {
	vmTestCases{
		vmTest("missing operand").
			source("add 1").
			expectError(ErrStackUnderflow),
		vmTest("type mismatch").
			source(`add 1 "nope"`).
			expectError(ErrTypeMismatch),
		vmTest("arithmetic overflow").
			source("add 2147483647 1").
			expectError(ErrIntegerOverflow),
		vmTest("unknown word").
			source("nope").
			expectError(ErrWordNotFound),
		vmTest("either needs blocks").
			source("either 1 2 3").
			expectError(ErrTypeMismatch),
	}.run(t)
}

func TestExecInvalidOpcode(t *testing.T) {
	vm := newTestVm(t)
	code, err := AllocItems(vm.Memory(), []byte{0xFF})
	assert.NoError(t, err)

	_, err = NewProcess(vm).Exec(code)
	assert.True(t, errors.Is(err, ErrInvalidCode), "got %v", err)
}

func TestEval(t *testing.T) {
	vm := newTestVm(t)

	result, err := vm.Eval("x: 41 x + 1")
	assert.NoError(t, err)
	assert.Equal(t, Int(42), result)

	// Later evaluations see earlier bindings.
	result, err = vm.Eval("x + 8")
	assert.NoError(t, err)
	assert.Equal(t, Int(49), result)
}

func TestEvalThroughOptions(t *testing.T) {
	var lines []string
	vm, err := New(
		WithMemSize(32*1024),
		WithLogf(func(mess string, args ...interface{}) {
			lines = append(lines, mess)
		}),
	)
	assert.NoError(t, err)

	result, err := vm.Eval("1 2 3")
	assert.NoError(t, err)
	assert.Equal(t, Int(3), result)
	assert.True(t, len(lines) > 0, "trace logging fired")
}

func TestProcessCallStackDiscipline(t *testing.T) {
	vm := newTestVm(t)

	// Both branches run against the same cached bytecode across calls.
	_, err := vm.Eval("pick: func [c] [either c [1] [2]]")
	assert.NoError(t, err)

	result, err := vm.Eval("pick lt 0 1")
	assert.NoError(t, err)
	assert.Equal(t, Int(1), result)

	result, err = vm.Eval("pick lt 1 0")
	assert.NoError(t, err)
	assert.Equal(t, Int(2), result)
}
