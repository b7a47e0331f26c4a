package client

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// runAll runs every task to completion concurrently and returns the
// combined error, if any. Unlike errgroup's fail-fast behavior, a task
// erroring does not cancel its siblings: every destination gets to
// finish and report its own result (spec §4.9 step 5, "any non-zero err
// becomes the overall error but all responses are collected").
func runAll(tasks []func() error) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var result *multierror.Error

	wg.Add(len(tasks))
	for _, task := range tasks {
		task := task
		go func() {
			defer wg.Done()
			if err := task(); err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return result.ErrorOrNil()
}
