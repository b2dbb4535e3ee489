package node

import (
	"fmt"
	"time"
)

func pubSubMessage(topic string, bytes int, ipcDuration time.Duration) string {
	return fmt.Sprintf("topic=%s bytes=%d ipc=%s", topic, bytes, ipcDuration)
}

func droppedMessage(topic string, count uint64) string {
	return fmt.Sprintf("topic=%s dropped=%d", topic, count)
}
