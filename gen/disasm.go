package gen

import (
	"fmt"
	"strings"
)

// Disassemble renders a program as a deterministic textual listing.
// The listing is the identity used by the content cache and by the
// double-emission guarantee: the same recorded history always
// disassembles to the same bytes.
func Disassemble(p *Program) string {
	var b strings.Builder
	fmt.Fprintf(&b, "program %s\n", p.Name)
	for _, proc := range p.procs {
		fmt.Fprintf(&b, "\nproc %s (params=%d, locals=%d, groups=%d)\n",
			proc.name, proc.params, proc.locals, proc.groups)
		for idx, in := range proc.instrs {
			if _, ok := in.(iGroup); ok {
				fmt.Fprintf(&b, "  -- group --\n")
				continue
			}
			fmt.Fprintf(&b, "  %04d  %s\n", idx, in)
		}
	}
	return b.String()
}
