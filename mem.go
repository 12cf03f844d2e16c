package rebel

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
)

// All runtime state lives in one byte buffer addressed by 32-bit offsets.
// Nothing in this file hands out a raw pointer into the buffer: callers hold
// typed Series handles (an address plus a compile-time element tag) and go
// through Memory for every read and write.

// Word is the machine word of the runtime: a 32-bit unsigned integer.
type Word = uint32

// Address and Offset are Words used as indices into the memory buffer.
type (
	Address = Word
	Offset  = Word
)

var (
	ErrOutOfMemory    = errors.New("out of memory")
	ErrOutOfBounds    = errors.New("out of bounds")
	ErrAlignment      = errors.New("misaligned address")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrInvalidTag     = errors.New("invalid tag")
	ErrWordNotFound   = errors.New("word not found")
)

const (
	memMagic Word = 0xDEADBEEF

	// MemHeader: magic, heap top, symbol table address, system words address.
	memHeaderSize = 16

	hdrMagic       = 0
	hdrHeapTop     = 4
	hdrSymbolTable = 8
	hdrSystemWords = 12

	// Every allocation starts with a block header: cap (bytes, including
	// the header), len (element count), bindings (compiled code address,
	// zero until a block has been compiled).
	blockHeaderSize = 12

	blkCap      = 0
	blkLen      = 4
	blkBindings = 8

	symbolTableCap = 1024
	systemWordsCap = 1024

	// system_words entries are a symbol address followed by a Value.
	bindingEntrySize = 12
)

// goldenRatio drives the binding-table hash; symbol addresses are already
// unique so a single multiply spreads them well enough.
const goldenRatio Word = 0x9E3779B9

// item enumerates the element types a Series can hold. Every item has a
// fixed little-endian layout so series contents survive a buffer snapshot.
type item interface {
	byte | Word | Value | NativeFunc | Func
}

func itemSize[T item]() Word {
	var v T
	switch any(v).(type) {
	case byte:
		return 1
	case Word:
		return 4
	case Value:
		return valueSize
	case NativeFunc:
		return nativeFuncSize
	case Func:
		return funcSize
	}
	return 0
}

func loadItem[T item](data []byte) T {
	var v T
	switch p := any(&v).(type) {
	case *byte:
		*p = data[0]
	case *Word:
		*p = binary.LittleEndian.Uint32(data)
	case *Value:
		p.Kind = Kind(binary.LittleEndian.Uint32(data))
		p.Data = binary.LittleEndian.Uint32(data[4:])
	case *NativeFunc:
		p.ID = binary.LittleEndian.Uint16(data)
		p.Arity = data[2]
		p.Consume = data[3]
		p.Description = binary.LittleEndian.Uint32(data[4:])
	case *Func:
		p.Arity = binary.LittleEndian.Uint32(data)
		p.Params = binary.LittleEndian.Uint32(data[4:])
		p.Body = binary.LittleEndian.Uint32(data[8:])
	}
	return v
}

func storeItem[T item](data []byte, v T) {
	switch p := any(v).(type) {
	case byte:
		data[0] = p
	case Word:
		binary.LittleEndian.PutUint32(data, p)
	case Value:
		binary.LittleEndian.PutUint32(data, Word(p.Kind))
		binary.LittleEndian.PutUint32(data[4:], p.Data)
	case NativeFunc:
		binary.LittleEndian.PutUint16(data, p.ID)
		data[2] = p.Arity
		data[3] = p.Consume
		binary.LittleEndian.PutUint32(data[4:], p.Description)
	case Func:
		binary.LittleEndian.PutUint32(data, p.Arity)
		binary.LittleEndian.PutUint32(data[4:], p.Params)
		binary.LittleEndian.PutUint32(data[8:], p.Body)
	}
}

// Series is a typed handle to a block in memory. It is just the block's
// address: copying a Series copies nothing, dropping one frees nothing, and
// the element type exists only at compile time.
type Series[T item] struct {
	addr Address
}

// Addr exposes the raw address of the handle, mostly for dump output and
// identity checks; every data access still goes through Memory.
func (s Series[T]) Addr() Address { return s.addr }

// IsNil reports whether the handle was never allocated.
func (s Series[T]) IsNil() bool { return s.addr == 0 }

// Memory is the arena: a fixed byte buffer with a bump allocator, the
// interned symbol table, and the word binding table. Handles into a Memory
// are invalidated only by building a new Memory.
type Memory struct {
	buf []byte
}

// NewMemory zeroes a buffer of the given size, writes the header and
// preallocates the symbol and binding tables.
func NewMemory(size int) (*Memory, error) {
	m := &Memory{buf: make([]byte, size)}
	if size < memHeaderSize {
		return nil, ErrOutOfMemory
	}
	m.setU32(hdrMagic, memMagic)
	m.setU32(hdrHeapTop, memHeaderSize)

	symbols, err := Alloc[Word](m, symbolTableCap)
	if err != nil {
		return nil, err
	}
	words, err := Alloc[byte](m, systemWordsCap*bindingEntrySize)
	if err != nil {
		return nil, err
	}
	m.setU32(hdrSymbolTable, symbols.addr)
	m.setU32(hdrSystemWords, words.addr)
	return m, nil
}

// Size returns the byte size of the arena buffer.
func (m *Memory) Size() int { return len(m.buf) }

func (m *Memory) bytes(addr, n Word) ([]byte, error) {
	end := uint64(addr) + uint64(n)
	if end > uint64(len(m.buf)) {
		return nil, ErrOutOfBounds
	}
	return m.buf[addr:end], nil
}

func (m *Memory) getU32(addr Address) Word {
	return binary.LittleEndian.Uint32(m.buf[addr:])
}

func (m *Memory) setU32(addr Address, v Word) {
	binary.LittleEndian.PutUint32(m.buf[addr:], v)
}

func (m *Memory) heapTop() Address { return m.getU32(hdrHeapTop) }

func (m *Memory) symbolTable() Series[Word] {
	return Series[Word]{m.getU32(hdrSymbolTable)}
}

func (m *Memory) systemWords() Address { return m.getU32(hdrSystemWords) }

func align4(n Word) Word { return (n + 3) &^ 3 }

// allocRaw bumps the heap by a block sized for payload bytes and writes the
// block header. The header update happens only after the range check, so a
// failed allocation leaves the arena untouched.
func (m *Memory) allocRaw(payload Word) (Address, error) {
	cap := align4(blockHeaderSize + payload)
	top := m.heapTop()
	if top%4 != 0 {
		return 0, ErrAlignment
	}
	if uint64(top)+uint64(cap) > uint64(len(m.buf)) {
		return 0, ErrOutOfMemory
	}
	m.setU32(top+blkCap, cap)
	m.setU32(top+blkLen, 0)
	m.setU32(top+blkBindings, 0)
	m.setU32(hdrHeapTop, top+cap)
	return top, nil
}

// Alloc reserves a block with capacity for count elements and length zero.
func Alloc[T item](m *Memory, count Word) (Series[T], error) {
	addr, err := m.allocRaw(count * itemSize[T]())
	if err != nil {
		return Series[T]{}, err
	}
	return Series[T]{addr}, nil
}

// AllocItems allocates a block sized exactly for the given items and copies
// them in.
func AllocItems[T item](m *Memory, items []T) (Series[T], error) {
	s, err := Alloc[T](m, Word(len(items)))
	if err != nil {
		return s, err
	}
	return s, PushAll(m, s, items)
}

// AllocString allocates a byte series holding the UTF-8 bytes of str.
func (m *Memory) AllocString(str string) (Series[byte], error) {
	s, err := Alloc[byte](m, Word(len(str)))
	if err != nil {
		return s, err
	}
	size := m.getU32(s.addr + blkCap)
	data, err := m.bytes(s.addr+blockHeaderSize, size-blockHeaderSize)
	if err != nil {
		return s, err
	}
	copy(data, str)
	m.setU32(s.addr+blkLen, Word(len(str)))
	return s, nil
}

// Len returns the element count of a series.
func Len[T item](m *Memory, s Series[T]) (Word, error) {
	if _, err := m.bytes(s.addr, blockHeaderSize); err != nil {
		return 0, err
	}
	return m.getU32(s.addr + blkLen), nil
}

func dataAddr[T item](s Series[T], index Word) Address {
	return s.addr + blockHeaderSize + index*itemSize[T]()
}

// Push appends one element, failing with ErrStackOverflow when the block
// capacity is exhausted.
func Push[T item](m *Memory, s Series[T], v T) error {
	size := itemSize[T]()
	cap := m.getU32(s.addr + blkCap)
	length := m.getU32(s.addr + blkLen)
	if (length+1)*size+blockHeaderSize > cap {
		return ErrStackOverflow
	}
	data, err := m.bytes(dataAddr(s, length), size)
	if err != nil {
		return err
	}
	storeItem(data, v)
	m.setU32(s.addr+blkLen, length+1)
	return nil
}

// PushAll appends a run of elements, failing without partial effect when
// they do not fit.
func PushAll[T item](m *Memory, s Series[T], items []T) error {
	size := itemSize[T]()
	cap := m.getU32(s.addr + blkCap)
	length := m.getU32(s.addr + blkLen)
	if (length+Word(len(items)))*size+blockHeaderSize > cap {
		return ErrStackOverflow
	}
	for i, v := range items {
		data, err := m.bytes(dataAddr(s, length+Word(i)), size)
		if err != nil {
			return err
		}
		storeItem(data, v)
	}
	m.setU32(s.addr+blkLen, length+Word(len(items)))
	return nil
}

// Pop removes and returns the last element.
func Pop[T item](m *Memory, s Series[T]) (T, error) {
	var zero T
	length := m.getU32(s.addr + blkLen)
	if length == 0 {
		return zero, ErrStackUnderflow
	}
	v, err := Get(m, s, length-1)
	if err != nil {
		return zero, err
	}
	m.setU32(s.addr+blkLen, length-1)
	return v, nil
}

// Peek reads the last element without removing it.
func Peek[T item](m *Memory, s Series[T]) (T, error) {
	var zero T
	length := m.getU32(s.addr + blkLen)
	if length == 0 {
		return zero, ErrStackUnderflow
	}
	return Get(m, s, length-1)
}

// PeekAt copies out the elements from pos through the end.
func PeekAt[T item](m *Memory, s Series[T], pos Word) ([]T, error) {
	length := m.getU32(s.addr + blkLen)
	if pos > length {
		return nil, ErrOutOfBounds
	}
	items := make([]T, 0, length-pos)
	for i := pos; i < length; i++ {
		v, err := Get(m, s, i)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

// Get reads the element at index.
func Get[T item](m *Memory, s Series[T], index Word) (T, error) {
	var zero T
	length := m.getU32(s.addr + blkLen)
	if index >= length {
		return zero, ErrOutOfBounds
	}
	data, err := m.bytes(dataAddr(s, index), itemSize[T]())
	if err != nil {
		return zero, err
	}
	return loadItem[T](data), nil
}

// Set overwrites the element at index.
func Set[T item](m *Memory, s Series[T], index Word, v T) error {
	length := m.getU32(s.addr + blkLen)
	if index >= length {
		return ErrOutOfBounds
	}
	data, err := m.bytes(dataAddr(s, index), itemSize[T]())
	if err != nil {
		return err
	}
	storeItem(data, v)
	return nil
}

// Drop shortens the series by n elements.
func Drop[T item](m *Memory, s Series[T], n Word) error {
	length := m.getU32(s.addr + blkLen)
	if n > length {
		return ErrStackUnderflow
	}
	m.setU32(s.addr+blkLen, length-n)
	return nil
}

// Drain copies s[pos..len] into a freshly allocated block, truncates s to
// pos and returns the new handle.
func Drain[T item](m *Memory, s Series[T], pos Word) (Series[T], error) {
	items, err := PeekAt(m, s, pos)
	if err != nil {
		return Series[T]{}, err
	}
	out, err := AllocItems(m, items)
	if err != nil {
		return Series[T]{}, err
	}
	m.setU32(s.addr+blkLen, pos)
	return out, nil
}

// bindings reads the compiled-code address memoized on a block.
func (m *Memory) bindings(s Series[Value]) (Address, error) {
	if _, err := m.bytes(s.addr, blockHeaderSize); err != nil {
		return 0, err
	}
	return m.getU32(s.addr + blkBindings), nil
}

func (m *Memory) setBindings(s Series[Value], code Address) error {
	if _, err := m.bytes(s.addr, blockHeaderSize); err != nil {
		return err
	}
	m.setU32(s.addr+blkBindings, code)
	return nil
}

// StringAt reads back the content of a byte series as a string.
func (m *Memory) StringAt(s Series[byte]) (string, error) {
	length, err := Len(m, s)
	if err != nil {
		return "", err
	}
	data, err := m.bytes(s.addr+blockHeaderSize, length)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

//// Symbol interning

func hashSymbol(name string) Word {
	h := fnv.New64a()
	h.Write([]byte(name))
	return Word(h.Sum64())
}

// GetOrAddSymbol probes the symbol table for name, interning it on first
// sight. Two symbols are equal iff their addresses are equal.
func (m *Memory) GetOrAddSymbol(name string) (Series[byte], error) {
	table := m.symbolTable()
	start := hashSymbol(name) % symbolTableCap
	for index, probed := start, Word(0); probed < symbolTableCap; probed++ {
		slot := dataAddr(table, index)
		entry := m.getU32(slot)
		if entry == 0 {
			sym, err := m.AllocString(name)
			if err != nil {
				return sym, err
			}
			m.setU32(slot, sym.addr)
			m.setU32(table.addr+blkLen, m.getU32(table.addr+blkLen)+1)
			return sym, nil
		}
		stored := Series[byte]{entry}
		text, err := m.StringAt(stored)
		if err != nil {
			return Series[byte]{}, err
		}
		if text == name {
			return stored, nil
		}
		index = (index + 1) % symbolTableCap
	}
	return Series[byte]{}, ErrOutOfMemory
}

//// Word bindings
//
// system_words is an open-addressing table of (symbol, Value) entries. The
// address of an entry's value slot never changes once created, so compiled
// code can hold it directly and a WORD fetch is one load, not a probe.

func (m *Memory) bindingSlot(sym Address, create bool) (Address, error) {
	base := m.systemWords() + blockHeaderSize
	start := (sym * goldenRatio) % systemWordsCap
	for index, probed := start, Word(0); probed < systemWordsCap; probed++ {
		slot := base + index*bindingEntrySize
		entry := m.getU32(slot)
		if entry == sym {
			return slot + 4, nil
		}
		if entry == 0 {
			if !create {
				return 0, ErrWordNotFound
			}
			m.setU32(slot, sym)
			if err := m.setCellValue(slot+4, None()); err != nil {
				return 0, err
			}
			words := Series[byte]{m.systemWords()}
			m.setU32(words.addr+blkLen, m.getU32(words.addr+blkLen)+1)
			return slot + 4, nil
		}
		index = (index + 1) % systemWordsCap
	}
	if create {
		return 0, ErrOutOfMemory
	}
	return 0, ErrWordNotFound
}

// BindWord returns the stable cell address bound to a symbol, optionally
// creating a NONE-initialized cell.
func (m *Memory) BindWord(sym Address, create bool) (Address, error) {
	return m.bindingSlot(sym, create)
}

// GetWord returns the Value currently bound to a symbol.
func (m *Memory) GetWord(sym Address) (Value, error) {
	cell, err := m.bindingSlot(sym, false)
	if err != nil {
		return None(), err
	}
	return m.cellValue(cell)
}

// SetWord binds a Value to a symbol, creating the cell on first store.
func (m *Memory) SetWord(sym Address, v Value) error {
	cell, err := m.bindingSlot(sym, true)
	if err != nil {
		return err
	}
	return m.setCellValue(cell, v)
}

// SetWordStr is SetWord for a name that may not be interned yet.
func (m *Memory) SetWordStr(name string, v Value) error {
	sym, err := m.GetOrAddSymbol(name)
	if err != nil {
		return err
	}
	return m.SetWord(sym.addr, v)
}

func (m *Memory) cellValue(cell Address) (Value, error) {
	data, err := m.bytes(cell, valueSize)
	if err != nil {
		return None(), err
	}
	return loadItem[Value](data), nil
}

func (m *Memory) setCellValue(cell Address, v Value) error {
	data, err := m.bytes(cell, valueSize)
	if err != nil {
		return err
	}
	storeItem(data, v)
	return nil
}

// getAt reads an item from a raw payload address, used for function
// descriptors whose addresses are carried inside Values.
func getAt[T item](m *Memory, addr Address) (T, error) {
	var zero T
	data, err := m.bytes(addr, itemSize[T]())
	if err != nil {
		return zero, err
	}
	return loadItem[T](data), nil
}
