package rebel

import (
	"fmt"
	"io"
)

// Dump writes a human-readable rendering of the arena to out.
func (vm *Vm) Dump(out io.Writer) {
	memDumper{vm: vm, out: out}.dump()
}

// memDumper renders the arena for debugging: the header, the interned
// symbols, the word bindings and the heap blocks in allocation order.
type memDumper struct {
	vm  *Vm
	out io.Writer

	addrWidth int
}

func (dump memDumper) dump() {
	mem := dump.vm.mem
	fmt.Fprintf(dump.out, "# Memory Dump\n")
	fmt.Fprintf(dump.out, "  size: %v\n", mem.Size())
	fmt.Fprintf(dump.out, "  heap top: %v\n", mem.heapTop())

	if dump.addrWidth == 0 {
		dump.addrWidth = len(fmt.Sprint(mem.heapTop())) + 1
	}

	dump.dumpSymbols()
	dump.dumpWords()
	dump.dumpHeap()
}

func (dump *memDumper) dumpSymbols() {
	mem := dump.vm.mem
	table := mem.symbolTable()
	fmt.Fprintf(dump.out, "# Symbols @%v\n", table.Addr())
	for i := Word(0); i < symbolTableCap; i++ {
		entry := mem.getU32(dataAddr(table, i))
		if entry == 0 {
			continue
		}
		name, err := mem.StringAt(Series[byte]{entry})
		if err != nil {
			name = fmt.Sprintf("<corrupt: %v>", err)
		}
		fmt.Fprintf(dump.out, "  @% *v %v\n", dump.addrWidth, entry, name)
	}
}

func (dump *memDumper) dumpWords() {
	mem := dump.vm.mem
	base := mem.systemWords() + blockHeaderSize
	fmt.Fprintf(dump.out, "# Words @%v\n", mem.systemWords())
	for i := Word(0); i < systemWordsCap; i++ {
		slot := base + i*bindingEntrySize
		sym := mem.getU32(slot)
		if sym == 0 {
			continue
		}
		name, err := mem.StringAt(Series[byte]{sym})
		if err != nil {
			name = fmt.Sprintf("<corrupt: %v>", err)
		}
		value, err := mem.cellValue(slot + 4)
		if err != nil {
			fmt.Fprintf(dump.out, "  %v: <corrupt: %v>\n", name, err)
			continue
		}
		text, err := mem.Form(value)
		if err != nil {
			text = fmt.Sprintf("<%v>", err)
		}
		fmt.Fprintf(dump.out, "  %v: %v (%v)\n", name, text, value.Kind)
	}
}

// dumpHeap walks block headers from the end of the binding table up to the
// heap top; the bump allocator keeps them contiguous so cap chains them.
func (dump *memDumper) dumpHeap() {
	mem := dump.vm.mem
	words := mem.systemWords()
	start := words + mem.getU32(words+blkCap)
	top := mem.heapTop()
	fmt.Fprintf(dump.out, "# Heap @%v\n", start)
	for addr := start; addr < top; {
		cap := mem.getU32(addr + blkCap)
		length := mem.getU32(addr + blkLen)
		bindings := mem.getU32(addr + blkBindings)
		fmt.Fprintf(dump.out, "  @% *v cap:%v len:%v", dump.addrWidth, addr, cap, length)
		if bindings != 0 {
			fmt.Fprintf(dump.out, " code:@%v", bindings)
		}
		fmt.Fprintf(dump.out, "\n")
		if cap < blockHeaderSize {
			fmt.Fprintf(dump.out, "  ! corrupt block header\n")
			return
		}
		addr += cap
	}
}
