package health

import (
	"context"
	"fmt"
)

// Pinger is implemented by dependencies that can be probed, such as the
// rate limit stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck returns a CheckFunc that pings p.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		return nil
	}
}
