package utils

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSOSCodeShape(t *testing.T) {
	pattern := regexp.MustCompile(`^SOS-\d+-0001\d{4}$`)
	assert.Regexp(t, pattern, GenerateSOSCode("0001"))
}

func TestGenerateSOSCodeUniqueUnderConcurrentTriggers(t *testing.T) {
	const perWorker = 50
	const workers = 20

	var mu sync.Mutex
	codes := make(map[string]bool, perWorker*workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				code := GenerateSOSCode("0001")
				mu.Lock()
				codes[code] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, codes, perWorker*workers, "same-second triggers on one shard must not collide")
}

func TestGenerateResponseCodeShape(t *testing.T) {
	assert.Regexp(t, regexp.MustCompile(`^RSP-\d+-\d{4}$`), GenerateResponseCode())
}
