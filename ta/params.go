package ta

import (
	"fmt"
	"slices"

	"github.com/ruteri/tee-wallet-kms/interfaces"
)

// MaxInputSize bounds the serialized request accepted by InvokeCommand.
const MaxInputSize = 64 * 1024

// Params holds the three parameter slots of an invocation: the input
// buffer, the caller-allocated output buffer and the in/out output length.
// Handlers never touch the buffers directly; every access goes through the
// bounds-checked methods below.
type Params struct {
	input    []byte
	output   []byte
	length   int
	required int
}

// NewParams copies input and allocates an output buffer of outputCapacity
// bytes, which must lie within the ABI bounds.
func NewParams(input []byte, outputCapacity int) (*Params, error) {
	if len(input) > MaxInputSize {
		return nil, fmt.Errorf("%w: input is %d bytes, limit %d", interfaces.ErrInvalidInput, len(input), MaxInputSize)
	}
	if outputCapacity < interfaces.MinOutputBufferSize || outputCapacity > interfaces.MaxOutputBufferSize {
		return nil, fmt.Errorf("%w: output capacity %d outside [%d, %d]", interfaces.ErrInvalidInput,
			outputCapacity, interfaces.MinOutputBufferSize, interfaces.MaxOutputBufferSize)
	}
	return &Params{
		input:  slices.Clone(input),
		output: make([]byte, outputCapacity),
	}, nil
}

func (p *Params) Input() []byte { return p.input }

func (p *Params) OutputCapacity() int { return len(p.output) }

// WriteOutput copies data into the output buffer. Data that does not fit is
// rejected with ErrBufferTooSmall and the required size is recorded; the
// buffer is never partially filled.
func (p *Params) WriteOutput(data []byte) error {
	if len(data) > len(p.output) {
		p.required = len(data)
		return fmt.Errorf("%w: need %d bytes, have %d", interfaces.ErrBufferTooSmall, len(data), len(p.output))
	}
	clear(p.output)
	p.length = copy(p.output, data)
	p.required = 0
	return nil
}

// writeMessage stores diagnostic text, truncated to the buffer.
func (p *Params) writeMessage(msg string) {
	clear(p.output)
	p.length = copy(p.output, msg)
}

// Output returns a copy of the valid part of the output buffer.
func (p *Params) Output() []byte { return slices.Clone(p.output[:p.length]) }

func (p *Params) OutputLength() int { return p.length }

// Required is the output size a StatusShortBuffer invocation needed.
func (p *Params) Required() int { return p.required }
