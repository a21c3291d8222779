package erasure

import "fmt"

// InsufficientShardsError is returned when fewer than the scheme's
// DataShards untampered shards are available to reconstruct.
type InsufficientShardsError struct {
	Have, Need int
}

func (e *InsufficientShardsError) Error() string {
	return fmt.Sprintf("erasure: insufficient shards: have %d, need %d", e.Have, e.Need)
}
