//go:build !gcp

package worm

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(context.Context) (Store, error) {
	return nil, fmt.Errorf("worm: gcs backend requires building with -tags gcp")
}
