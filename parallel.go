package fscrypt

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ParallelConfig controls parallel decoding of directory listings
type ParallelConfig struct {
	// Enabled enables parallel name decoding
	Enabled bool

	// MaxWorkers is the maximum number of worker goroutines
	// If 0, defaults to runtime.NumCPU()
	MaxWorkers int

	// MinNamesForParallel is the minimum number of names to use parallel decoding
	// Below this threshold, sequential decoding is used
	// Defaults to 32
	MinNamesForParallel int
}

// Validate checks if the parallel configuration is valid
func (p *ParallelConfig) Validate() error {
	if !p.Enabled {
		return nil
	}

	if p.MaxWorkers < 0 {
		return errors.New("parallel max workers cannot be negative")
	}
	if p.MaxWorkers > 1024 {
		return errors.New("parallel max workers must not exceed 1024")
	}
	if p.MinNamesForParallel < 1 {
		return errors.New("parallel min names threshold must be at least 1")
	}
	if p.MinNamesForParallel > 100000 {
		return errors.New("parallel min names threshold must not exceed 100000")
	}

	return nil
}

// DefaultParallelConfig returns the default parallel decoding configuration
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		Enabled:             true,
		MaxWorkers:          runtime.NumCPU(),
		MinNamesForParallel: 32,
	}
}

// DecodeNames decodes a batch of on-disk names with one context, e.g. a
// whole directory listing. out[i] is the plaintext of disk[i]. If any name
// fails to decode the first error is returned and out is nil.
func DecodeNames(ci *CryptInfo, disk [][]byte, cfg ParallelConfig) ([][]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	out := make([][]byte, len(disk))
	if len(disk) == 0 {
		return out, nil
	}

	if !cfg.Enabled || len(disk) < cfg.MinNamesForParallel {
		for i, name := range disk {
			plain, err := DecodeName(ci, name)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			out[i] = plain
		}
		return out, nil
	}

	numWorkers := cfg.MaxWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(disk) {
		numWorkers = len(disk)
	}

	var wg sync.WaitGroup
	jobChan := make(chan int, len(disk))
	errChan := make(chan error, numWorkers)

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("panic in name decoding worker: %v", r)
					select {
					case errChan <- err:
					default:
					}
				}
			}()
			for idx := range jobChan {
				plain, err := DecodeName(ci, disk[idx])
				if err != nil {
					select {
					case errChan <- fmt.Errorf("entry %d: %w", idx, err):
					default:
					}
					return
				}
				out[idx] = plain
			}
		}()
	}

	for i := range disk {
		jobChan <- i
	}
	close(jobChan)

	wg.Wait()
	close(errChan)

	if err, ok := <-errChan; ok {
		return nil, err
	}
	return out, nil
}
