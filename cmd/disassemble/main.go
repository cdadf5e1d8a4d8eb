// Command disassemble prints the instructions of a virtual (.prog) or
// physical (.memprog/.repprog) bytecode file, inferring which from the
// file extension, matching original_source/src/executables/disassemble.cpp.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ucbrise/mage-sub001/internal/memprog"
	"github.com/ucbrise/mage-sub001/internal/physprog"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

func doMain(args []string, stdOut, stdErr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintf(stdErr, "Usage: disassemble <file.prog|file.memprog|file.repprog>\n")
		return 1
	}
	path := args[0]
	switch {
	case strings.HasSuffix(path, ".memprog"), strings.HasSuffix(path, ".repprog"):
		return disassemblePhysical(path, stdOut, stdErr)
	case strings.HasSuffix(path, ".prog"):
		return disassembleVirtual(path, stdOut, stdErr)
	default:
		fmt.Fprintln(stdErr, "error: could not infer bytecode type from file extension")
		return 1
	}
}

func disassembleVirtual(path string, stdOut, stdErr io.Writer) int {
	prog, err := memprog.Open(path)
	if err != nil {
		fmt.Fprintf(stdErr, "%v\n", err)
		return 1
	}
	defer prog.Close()
	err = prog.ForEach(func(i uint64, in memprog.Instruction) error {
		fmt.Fprintf(stdOut, "%06d: %s\n", i, formatVirt(in))
		return nil
	})
	if err != nil {
		fmt.Fprintf(stdErr, "%v\n", err)
		return 1
	}
	for _, r := range prog.Ranges {
		fmt.Fprintf(stdOut, "output range: [%d, %d)\n", r.Start, r.End)
	}
	return 0
}

func disassemblePhysical(path string, stdOut, stdErr io.Writer) int {
	prog, err := physprog.Open(path)
	if err != nil {
		fmt.Fprintf(stdErr, "%v\n", err)
		return 1
	}
	err = prog.ForEach(func(i uint64, in physprog.Instruction) error {
		fmt.Fprintf(stdOut, "%06d: %s\n", i, formatPhys(in))
		return nil
	})
	if err != nil {
		fmt.Fprintf(stdErr, "%v\n", err)
		return 1
	}
	return 0
}

func formatVirt(in memprog.Instruction) string {
	f := memprog.FormatOf(in.Op)
	s := fmt.Sprintf("%s w%d", in.Op, in.Width)
	inputs := [3]memprog.VirtAddr{in.Input1, in.Input2, in.Input3}
	for i := 0; i < f.NumInputs(); i++ {
		s += fmt.Sprintf(" i%d=%d", i, inputs[i])
	}
	if f.HasOutput() {
		s += fmt.Sprintf(" out=%d", in.Output)
	}
	if f.HasConstant() {
		s += fmt.Sprintf(" k=%d", in.Constant)
	}
	return s
}

func formatPhys(in physprog.Instruction) string {
	switch in.Kind {
	case physprog.SwapIn:
		return fmt.Sprintf("swapin page=%d slot=%d", in.VirtPage, in.Slot)
	case physprog.SwapOut:
		return fmt.Sprintf("swapout page=%d slot=%d", in.VirtPage, in.Slot)
	default:
		f := memprog.FormatOf(in.Op)
		s := fmt.Sprintf("%s w%d", in.Op, in.Width)
		inputs := [3]uint32{in.Input1, in.Input2, in.Input3}
		for i := 0; i < f.NumInputs(); i++ {
			s += fmt.Sprintf(" i%d=slot%d", i, inputs[i])
		}
		if f.HasOutput() {
			s += fmt.Sprintf(" out=slot%d", in.Output)
		}
		return s
	}
}
