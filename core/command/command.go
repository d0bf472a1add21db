package command

import (
	"context"
	"maps"

	"github.com/google/uuid"
)

// Kind tells whether a command produces a single result or a stream.
type Kind uint8

const (
	KindUnary Kind = iota
	KindStream
)

func (k Kind) String() string {
	if k == KindStream {
		return "stream"
	}
	return "unary"
}

// Command is a named request. Name is the stable identifier used both as the
// registry key and as the wire topic.
type Command struct {
	ID      string
	Name    string
	Payload any
	Kind    Kind
}

// New creates a unary command with a fresh ID.
func New(name string, payload any) Command {
	return Command{ID: uuid.NewString(), Name: name, Payload: payload, Kind: KindUnary}
}

// NewStream creates a stream command with a fresh ID.
func NewStream(name string, payload any) Command {
	return Command{ID: uuid.NewString(), Name: name, Payload: payload, Kind: KindStream}
}

// Descriptor binds a stable command name to its payload type P and result type R.
//
//	var Sum = command.Define[SumArgs, int]("Sum")
//
//	command.Handle(d, Sum, func(ctx context.Context, args SumArgs) (int, error) {
//		return args.A + args.B, nil
//	})
//	n, err := command.Execute(ctx, d, Sum, SumArgs{A: 1, B: 2})
type Descriptor[P, R any] struct {
	name string
	kind Kind
}

// Define declares a unary command.
func Define[P, R any](name string) Descriptor[P, R] {
	return Descriptor[P, R]{name: name, kind: KindUnary}
}

// DefineStream declares a command whose handler produces a stream of R.
func DefineStream[P, R any](name string) Descriptor[P, R] {
	return Descriptor[P, R]{name: name, kind: KindStream}
}

// Name returns the command name.
func (d Descriptor[P, R]) Name() string { return d.name }

// Kind returns whether the command is unary or streaming.
func (d Descriptor[P, R]) Kind() Kind { return d.kind }

// New builds a command instance carrying payload.
func (d Descriptor[P, R]) New(payload P) Command {
	return Command{ID: uuid.NewString(), Name: d.name, Payload: payload, Kind: d.kind}
}

// Meta is optional per-call metadata supplied by the component that invoked a
// handler, e.g. the bridge records the requesting peer and correlation id.
type Meta map[string]any

type metaKey struct{}

// WithMeta returns a copy of ctx carrying m merged over any existing metadata.
func WithMeta(ctx context.Context, m Meta) context.Context {
	merged := Meta{}
	maps.Copy(merged, MetaFromContext(ctx))
	maps.Copy(merged, m)
	return context.WithValue(ctx, metaKey{}, merged)
}

// MetaFromContext returns the metadata carried by ctx, or nil.
func MetaFromContext(ctx context.Context) Meta {
	m, _ := ctx.Value(metaKey{}).(Meta)
	return m
}
