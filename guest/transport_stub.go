//go:build !wasip1

package guest

import "context"

func hostTransport(context.Context, string, []byte) ([]byte, error) {
	return nil, ErrNoHost
}
