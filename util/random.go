package util

import (
	"log"
	"math/rand"
	"os"
	"strconv"
	"time"
)

// GetSeededRng returns a rand.Rand seeded from the SEED environment
// variable if set, otherwise from the current time, logging the seed
// used so a failing property test can be reproduced.
func GetSeededRng() *rand.Rand {
	seedvalue := time.Now().UnixNano()
	if seed := os.Getenv("SEED"); seed != "" {
		v, err := strconv.Atoi(seed)
		if err != nil {
			log.Panic(err)
		}
		seedvalue = int64(v)
	}
	log.Printf("seed: %v (set SEED= to reproduce)", seedvalue)
	return rand.New(rand.NewSource(seedvalue))
}
