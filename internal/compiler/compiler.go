// Package compiler defines the contract that turns program source text
// into VM bytecode plus diagnostics. The actual compiler front-end
// (parsing, type checking, code generation for the Aseba VM) is an
// external collaborator out of scope for the broker core; this package
// only fixes the interface the node handle calls through and a dummy
// implementation used by tests and the standalone simulated backend.
package compiler

import (
	"context"
	"strings"

	"github.com/mobsya/thymio-broker/internal/node"
)

// Compiler transforms program text for the given language into a
// CompilationResult. It never mutates device state; loading onto a
// node is a separate step performed by node.Device.Load.
type Compiler interface {
	Compile(ctx context.Context, language node.Language, program string) (node.CompilationResult, error)
}

// Dummy is a minimal stand-in compiler: any program containing "!" is
// treated as a syntax error at line 1 column 1 (matching scenario S3
// of spec.md §8), everything else "compiles" to a trivial bytecode
// blob that is just the source bytes, so tests can assert load
// behavior without a real Aseba front-end.
type Dummy struct{}

func (Dummy) Compile(_ context.Context, _ node.Language, program string) (node.CompilationResult, error) {
	if idx := strings.IndexByte(program, '!'); idx >= 0 {
		return node.CompilationResult{
			Success: false,
			Diagnostic: node.CompilationDiagnostic{
				Message:   "unexpected token '!'",
				Line:      1,
				Column:    1,
				Character: uint32(idx),
			},
		}, nil
	}
	return node.CompilationResult{
		Success:  true,
		Bytecode: []byte(program),
	}, nil
}
