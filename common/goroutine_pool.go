package common

import (
	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"
)

type PoolConfig struct {
	MaxWorkers int
}

// NewPool creates the bounded goroutine pool used to fan out device requests.
func NewPool(config PoolConfig) (*ants.Pool, error) {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 16
	}

	pool, err := ants.NewPool(config.MaxWorkers)
	if err != nil {
		log.Errorf("failed to create ants goroutine pool: %v", err)
		return nil, err
	}

	return pool, nil
}
