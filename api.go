package rebel

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// New builds a Vm with the default arena size, applying any options.
func New(opts ...VmOption) (*Vm, error) {
	var cfg vmConfig
	cfg.memSize = defaultMemSize
	VmOptions(opts...).apply(&cfg)

	vm, err := NewVm(cfg.memSize)
	if err != nil {
		return nil, err
	}
	vm.logfn = cfg.logfn
	return vm, nil
}

// Eval parses, compiles and executes src on a fresh Process, returning the
// result value. A panic escaping the interpreter is recovered as an
// EvalPanicError; the arena may be mid-update at that point, so the Vm
// should be rebuilt before further use.
func (vm *Vm) Eval(src string) (result Value, rerr error) {
	defer func() {
		if e := recover(); e != nil {
			result = None()
			rerr = EvalPanicError{src: src, e: e, stack: debug.Stack()}
		}
	}()

	root, err := vm.ParseBlock(src)
	if err != nil {
		return None(), err
	}
	block, err := root.AsBlock()
	if err != nil {
		return None(), err
	}
	proc := NewProcess(vm)
	code, err := proc.Compile(block)
	if err != nil {
		return None(), err
	}
	return proc.Exec(code)
}

// EvalPanicError reports a panic that escaped the interpreter, keeping the
// offending source and the panic stack for diagnosis.
type EvalPanicError struct {
	src   string
	e     interface{}
	stack []byte
}

func (pe EvalPanicError) Error() string {
	return fmt.Sprint(pe)
}

func (pe EvalPanicError) Format(f fmt.State, c rune) {
	fmt.Fprintf(f, "eval paniced: %v", pe.e)
	if c == 'v' && f.Flag('+') {
		fmt.Fprintf(f, "\nSource: %q\nPanic stack: %s", pe.src, pe.stack)
	}
}

func (pe EvalPanicError) Unwrap() error {
	err, _ := pe.e.(error)
	return err
}

type vmConfig struct {
	memSize int
	logfn   func(mess string, args ...interface{})
}

// VmOption configures a Vm under construction.
type VmOption interface{ apply(cfg *vmConfig) }

// WithMemSize sets the arena byte size.
func WithMemSize(size int) VmOption { return memSizeOption(size) }

// WithLogf injects a trace logging function.
func WithLogf(logfn func(mess string, args ...interface{})) VmOption {
	return logfnOption(logfn)
}

// VmOptions flattens a list of options into one.
func VmOptions(opts ...VmOption) VmOption {
	var res options
	for _, opt := range opts {
		switch impl := opt.(type) {
		case nil, noption:
		case options:
			res = append(res, impl...)
		default:
			res = append(res, opt)
		}
	}
	switch len(res) {
	case 0:
		return noption{}
	case 1:
		return res[0]
	default:
		return res
	}
}

type noption struct{}

func (noption) apply(cfg *vmConfig) {}

type options []VmOption

func (opts options) apply(cfg *vmConfig) {
	for _, opt := range opts {
		if opt != nil {
			opt.apply(cfg)
		}
	}
}

type memSizeOption int

func (size memSizeOption) apply(cfg *vmConfig) { cfg.memSize = int(size) }

type logfnOption func(mess string, args ...interface{})

func (logfn logfnOption) apply(cfg *vmConfig) { cfg.logfn = logfn }

// logging carries an injectable trace function; marks keep the log columns
// readable the same way across subsystems.
type logging struct {
	logfn func(mess string, args ...interface{})

	markWidth int
}

func (log *logging) logf(mark, mess string, args ...interface{}) {
	if log.logfn == nil {
		return
	}
	if n := log.markWidth - len(mark); n > 0 {
		for _, r := range mark {
			mark = strings.Repeat(string(r), n) + mark
			break
		}
	} else if n < 0 {
		log.markWidth = len(mark)
	}
	if len(args) > 0 {
		mess = fmt.Sprintf(mess, args...)
	}
	log.logfn("%v %v", mark, mess)
}
