package testutil

// Wasm value types.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
)

// Opcodes used by the hand-assembled test guests.
const (
	OpLoop      byte = 0x03
	OpBr        byte = 0x0c
	OpEnd       byte = 0x0b
	OpCall      byte = 0x10
	OpLocalGet  byte = 0x20
	OpGlobalGet byte = 0x23
	OpGlobalSet byte = 0x24
	OpI32Const  byte = 0x41
	OpI64Const  byte = 0x42
	OpI32Add    byte = 0x6a
	OpDrop      byte = 0x1a
	BlockEmpty  byte = 0x40
)

// WasmImport is an imported host function.
type WasmImport struct {
	Module  string
	Name    string
	Params  []byte
	Results []byte
}

// WasmFunc is a defined function. Body is the instruction stream
// without the trailing end opcode.
type WasmFunc struct {
	Export  string
	Params  []byte
	Results []byte
	Locals  []byte
	Body    []byte
}

// WasmModule describes a minimal core module. Function indices start
// after the imports.
type WasmModule struct {
	Imports     []WasmImport
	Funcs       []WasmFunc
	MaxPages    uint32
	MemoryPages uint32
	// Globals are mutable i32 globals with the given initial values.
	Globals      []int32
	Memory       bool
	ExportMemory bool
	HasMaxPages  bool
}

// Encode renders the binary module.
func (m WasmModule) Encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var types [][]byte
	for _, imp := range m.Imports {
		types = append(types, funcType(imp.Params, imp.Results))
	}
	for _, f := range m.Funcs {
		types = append(types, funcType(f.Params, f.Results))
	}
	if len(types) > 0 {
		out = appendSection(out, 1, vector(types))
	}

	if len(m.Imports) > 0 {
		items := make([][]byte, 0, len(m.Imports))
		for i, imp := range m.Imports {
			item := appendName(nil, imp.Module)
			item = appendName(item, imp.Name)
			item = append(item, 0x00)
			item = appendULEB(item, uint32(i)) //nolint:gosec // G115: test modules are tiny
			items = append(items, item)
		}
		out = appendSection(out, 2, vector(items))
	}

	if len(m.Funcs) > 0 {
		items := make([][]byte, 0, len(m.Funcs))
		for i := range m.Funcs {
			items = append(items, appendULEB(nil, uint32(len(m.Imports)+i))) //nolint:gosec // G115: test modules are tiny
		}
		out = appendSection(out, 3, vector(items))
	}

	if m.Memory {
		limits := []byte{0x00}
		if m.HasMaxPages {
			limits[0] = 0x01
		}
		limits = appendULEB(limits, m.MemoryPages)
		if m.HasMaxPages {
			limits = appendULEB(limits, m.MaxPages)
		}
		out = appendSection(out, 5, vector([][]byte{limits}))
	}

	if len(m.Globals) > 0 {
		items := make([][]byte, 0, len(m.Globals))
		for _, g := range m.Globals {
			item := []byte{I32, 0x01, OpI32Const}
			item = appendSLEB(item, int64(g))
			items = append(items, append(item, OpEnd))
		}
		out = appendSection(out, 6, vector(items))
	}

	var exports [][]byte
	if m.Memory && m.ExportMemory {
		exports = append(exports, append(appendName(nil, "memory"), 0x02, 0x00))
	}
	for i, f := range m.Funcs {
		if f.Export == "" {
			continue
		}
		item := appendName(nil, f.Export)
		item = append(item, 0x00)
		exports = append(exports, appendULEB(item, uint32(len(m.Imports)+i))) //nolint:gosec // G115: test modules are tiny
	}
	if len(exports) > 0 {
		out = appendSection(out, 7, vector(exports))
	}

	if len(m.Funcs) > 0 {
		bodies := make([][]byte, 0, len(m.Funcs))
		for _, f := range m.Funcs {
			body := appendULEB(nil, uint32(len(f.Locals))) //nolint:gosec // G115: test modules are tiny
			for _, l := range f.Locals {
				body = append(body, 0x01, l)
			}
			body = append(body, f.Body...)
			body = append(body, OpEnd)
			bodies = append(bodies, appendULEB(nil, uint32(len(body)))) //nolint:gosec // G115: test modules are tiny
			bodies[len(bodies)-1] = append(bodies[len(bodies)-1], body...)
		}
		out = appendSection(out, 10, vector(bodies))
	}
	return out
}

// BumpAllocatorGuest returns a guest that exports memory, a bump
// "allocate" starting at offset 1024 and a "call" function forwarding
// its packed i64 argument to the imported host function module.name.
func BumpAllocatorGuest(module, name string) []byte {
	return WasmModule{
		Imports: []WasmImport{{Module: module, Name: name, Params: []byte{I64}, Results: []byte{I64}}},
		Funcs: []WasmFunc{
			{
				Export:  "allocate",
				Params:  []byte{I32},
				Results: []byte{I32},
				Body: []byte{
					OpGlobalGet, 0x00,
					OpGlobalGet, 0x00, OpLocalGet, 0x00, OpI32Add, OpGlobalSet, 0x00,
				},
			},
			{
				Export:  "call",
				Params:  []byte{I64},
				Results: []byte{I64},
				Body:    []byte{OpLocalGet, 0x00, OpCall, 0x00},
			},
		},
		Memory:       true,
		MemoryPages:  1,
		ExportMemory: true,
		Globals:      []int32{1024},
	}.Encode()
}

func funcType(params, results []byte) []byte {
	t := []byte{0x60}
	t = appendULEB(t, uint32(len(params))) //nolint:gosec // G115: test modules are tiny
	t = append(t, params...)
	t = appendULEB(t, uint32(len(results))) //nolint:gosec // G115: test modules are tiny
	return append(t, results...)
}

func vector(items [][]byte) []byte {
	out := appendULEB(nil, uint32(len(items))) //nolint:gosec // G115: test modules are tiny
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = appendULEB(out, uint32(len(content))) //nolint:gosec // G115: test modules are tiny
	return append(out, content...)
}

func appendName(out []byte, s string) []byte {
	out = appendULEB(out, uint32(len(s))) //nolint:gosec // G115: test modules are tiny
	return append(out, s...)
}

func appendULEB(out []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func appendSLEB(out []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
