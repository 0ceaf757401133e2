package utilities

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewUserID generates an opaque, globally unique, sortable user ID.
func NewUserID() string {
	return ksuid.New().String()
}

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewRequestID returns a snowflake ID string used to correlate log lines
// belonging to one HTTP request. If the node cannot be initialized it falls
// back to a KSUID so an ID is always produced.
func NewRequestID() string {
	nodeOnce.Do(func() {
		n, err := snowflake.NewNode(1)
		if err != nil {
			return
		}
		node = n
	})
	if node == nil {
		return ksuid.New().String()
	}
	return node.Generate().String()
}
