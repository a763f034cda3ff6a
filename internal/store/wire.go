package store

import "github.com/DoyleJ11/planning-poker/pkg/types"

// ToWire converts ops to the shape sent over HTTP.
func ToWire(ops ...Op) []types.Op {
	out := make([]types.Op, len(ops))
	for i, op := range ops {
		out[i] = types.Op{
			Kind:     string(op.Kind),
			Field:    op.Field,
			Value:    op.Value,
			Key:      op.Key,
			Match:    op.Match,
			Subfield: op.Subfield,
		}
	}
	return out
}

func FromWire(ops []types.Op) []Op {
	out := make([]Op, len(ops))
	for i, op := range ops {
		out[i] = Op{
			Kind:     OpKind(op.Kind),
			Field:    op.Field,
			Value:    op.Value,
			Key:      op.Key,
			Match:    op.Match,
			Subfield: op.Subfield,
		}
	}
	return out
}
