// Package instance names the running process for lease ownership and logs.
package instance

import (
	"fmt"
	"os"
	"strings"
)

// GetID returns FULFILLMENT_WORKER_ID, then the platform dyno name, then
// hostname-pid. Lease owners must differ between concurrently running workers.
func GetID() string {
	for _, key := range []string{"FULFILLMENT_WORKER_ID", "DYNO"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
