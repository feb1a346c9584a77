// Package tblgen gives Go code safe access to a compiled TableGen record
// graph.
//
// A Parser collects sources and include paths and hands them to a record
// compiler (see package native). Parsing yields a RecordKeeper, which owns
// the compiled graph:
//
//	p, err := tblgen.NewParser().AddSourceFile("X86.yaml")
//	if err != nil {
//		return err
//	}
//	k, err := p.Parse()
//	if err != nil {
//		return err
//	}
//	defer k.Close()
//	for r := range k.AllDerivedDefinitions("Instruction") {
//		name, _ := r.Name()
//		size, err := r.IntValue("Size")
//		if err != nil {
//			var le *tblgen.LocatedError
//			if errors.As(err, &le) {
//				err = le.WithSourceInfo(k.SourceInfo())
//			}
//			return err
//		}
//		fmt.Println(name, size)
//	}
//
// Records, fields, values and string views borrow from their RecordKeeper
// and must not be used after it is closed; doing so panics with
// ErrReleased. Everything obtained from a RecordKeeper is safe for
// concurrent readers.
//
// Errors about the graph's content carry a SourceLocation. Attaching the
// keeper's SourceInfo re-renders them with the offending source line.
package tblgen
