//go:build wasip1

package guest

import (
	"context"
	"fmt"

	"github.com/sentinel-dev/sentinel/internal/abi"
	"github.com/sentinel-dev/sentinel/wireformat"
)

//go:wasmimport sentinel request_capability
func hostRequestCapability(packed uint64) uint64

//go:wasmimport sentinel release_capability
func hostReleaseCapability(packed uint64) uint64

//go:wasmimport sentinel fs_read
func hostFSRead(packed uint64) uint64

//go:wasmimport sentinel fs_write
func hostFSWrite(packed uint64) uint64

//go:wasmimport sentinel fs_list
func hostFSList(packed uint64) uint64

//go:wasmimport sentinel http_request
func hostHTTPRequest(packed uint64) uint64

//go:wasmimport sentinel exec_command
func hostExecCommand(packed uint64) uint64

//go:wasmimport sentinel submit_manifest
func hostSubmitManifest(packed uint64) uint64

//go:wasmimport sentinel await_approval
func hostAwaitApproval(packed uint64) uint64

//go:wasmimport sentinel check_approval
func hostCheckApproval(packed uint64) uint64

//go:wasmimport sentinel log_message
func hostLogMessage(packed uint64) uint64

var imports = map[string]func(uint64) uint64{
	wireformat.ToolRequestCapability: hostRequestCapability,
	wireformat.ToolReleaseCapability: hostReleaseCapability,
	wireformat.ToolFSRead:            hostFSRead,
	wireformat.ToolFSWrite:           hostFSWrite,
	wireformat.ToolFSList:            hostFSList,
	wireformat.ToolHTTPRequest:       hostHTTPRequest,
	wireformat.ToolExecCommand:       hostExecCommand,
	wireformat.ToolSubmitManifest:    hostSubmitManifest,
	wireformat.ToolAwaitApproval:     hostAwaitApproval,
	wireformat.ToolCheckApproval:     hostCheckApproval,
	wireformat.ToolLogMessage:        hostLogMessage,
}

// hostTransport calls the wasm import for tool. The context is not
// forwarded; the host applies the session deadline itself.
func hostTransport(_ context.Context, tool string, request []byte) ([]byte, error) {
	fn, ok := imports[tool]
	if !ok {
		return nil, fmt.Errorf("guest: unknown tool %q", tool)
	}
	packed := abi.PtrFromBytes(request)
	defer abi.Free(packed)

	resp := fn(packed)
	if resp == 0 {
		return nil, fmt.Errorf("guest: host returned no answer for %s", tool)
	}
	defer abi.Free(resp)
	return abi.BytesFromPtr(resp), nil
}
