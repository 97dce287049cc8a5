package store

import (
	"time"

	"github.com/btcoracle/ernest/internal/random"
)

func randomSuffix() string {
	return random.String(16)
}

func timeNow() time.Time {
	return time.Now()
}
