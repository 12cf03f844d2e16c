package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/hulylabs/rebel"
	"github.com/hulylabs/rebel/internal/fileinput"
	"github.com/hulylabs/rebel/internal/logio"
)

func main() {
	var (
		memSize int
		expr    string
		trace   bool
		dump    bool
	)
	flag.IntVar(&memSize, "mem-size", 64*1024, "arena size in bytes")
	flag.StringVar(&expr, "e", "", "evaluate the given expression")
	flag.BoolVar(&trace, "trace", false, "enable trace logging")
	flag.BoolVar(&dump, "dump", false, "print a memory dump after evaluation")
	flag.Parse()

	log := &logio.Logger{}
	log.SetOutput(os.Stderr)
	defer func() { os.Exit(log.ExitCode()) }()

	opts := []rebel.VmOption{rebel.WithMemSize(memSize)}
	if trace {
		opts = append(opts, rebel.WithLogf(log.Leveledf("TRACE")))
	}

	vm, err := rebel.New(opts...)
	if err != nil {
		log.ErrorIf(errors.Wrap(err, "creating vm"))
		return
	}

	if dump {
		lw := log.LineWriter("DUMP")
		defer lw.Close()
		defer vm.Dump(lw)
	}

	in, err := queueInputs(expr, flag.Args())
	if err != nil {
		log.ErrorIf(err)
		return
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	log.ErrorIf(evalAll(vm, in, out))
}

// queueInputs orders the evaluation sources: script files first, then any
// -e expression, falling back to stdin when neither was given.
func queueInputs(expr string, files []string) (*fileinput.Input, error) {
	var in fileinput.Input
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		in.Push(f)
	}
	if expr != "" {
		in.Push(fileinput.NamedReader("<expr>", strings.NewReader(expr)))
	}
	if len(in.Queue) == 0 {
		in.Push(fileinput.NamedReader("<stdin>", os.Stdin))
	}
	return &in, nil
}

// evalAll runs every queued source on the shared vm, printing each source's
// result value.
func evalAll(vm *rebel.Vm, in *fileinput.Input, out *bufio.Writer) error {
	for {
		src, err := in.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "reading %v", src.Name)
		}

		result, err := vm.Eval(src.Text)
		if err != nil {
			return errors.Wrapf(err, "evaluating %v", src.Name)
		}
		text, err := vm.Memory().Form(result)
		if err != nil {
			return errors.Wrapf(err, "rendering result of %v", src.Name)
		}
		if _, err := fmt.Fprintln(out, text); err != nil {
			return errors.WithStack(err)
		}
		if err := out.Flush(); err != nil {
			return errors.WithStack(err)
		}
	}
}
