// Package wazero exposes a hostfuncs.HandlerRegistry to WebAssembly
// guests as the "sentinel" host module.
//
// Every export takes one i64 packing the request pointer (upper 32 bits)
// and length (lower 32 bits) of a JSON document in guest memory, and
// returns the response packed the same way. Responses are written into
// memory the guest hands out from its "allocate" export. Denials come
// back as ErrorResponse JSON, never as traps.
//
//	registry, err := hostfuncs.NewRegistry(toolset.Register())
//	if err != nil {
//	    return err
//	}
//	err = wazero.RegisterWithRuntime(ctx, runtime, registry,
//	    wazero.WithMemoryChecker(session),
//	)
package wazero
