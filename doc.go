/*
Package rebel is the core of a small REBOL-inspired language runtime.

Everything the runtime touches lives in one contiguous byte buffer, the
arena, addressed by 32-bit offsets rather than machine pointers. Objects in
the arena are length-prefixed blocks; typed Series handles carry an address
plus a compile-time element tag and go through Memory for every access.
There is no garbage collector: storage is bump-allocated and freed only by
dropping the whole arena.

Source text flows through four stages. The streaming parser tokenizes a
single pass and emits events to a Collector; the default collector
materializes a value block in the arena. The compiler walks that block and
reorders prefix call syntax into postfix bytecode with a deferred-call
stack, so no syntax tree is ever built. The stack VM then interprets the
bytecode over a bounded operand stack, dispatching intrinsics through a
host-side function table and user functions through precompiled bodies.

A word used as a call site is resolved at compile time against the binding
table, and the compiled code holds the binding cell's address directly:
a WORD fetch at run time is a single load, never a hash probe. Blocks
memoize their compiled bytecode, so a block used as a function body or a
branch compiles exactly once.

The typical driver loop is:

	vm, err := rebel.New()
	result, err := vm.Eval("x: 41 x + 1")
	text, err := vm.Memory().Form(result)

or, spelled out over the individual stages: Vm.ParseBlock to get the root
block, Process.Compile to get bytecode, Process.Exec to run it.
*/
package rebel
