// Package bag provides the mutable key/value context threaded through every
// command and event execution.
//
// Dispatchers and event buses own a default Bag. Callers override it per call
// by attaching their own bag to the context.Context:
//
//	b := bag.New(map[string]any{"tenant": "acme"})
//	ctx = bag.WithContext(ctx, b)
//	result, err := dispatcher.Execute(ctx, cmd)
//
// Handlers read it back with FromContext:
//
//	tenant, _ := bag.Value[string](bag.FromContext(ctx), "tenant")
package bag
