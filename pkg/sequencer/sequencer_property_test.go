//go:build property
// +build property

// Property-based tests for the sequence number invariants.
package sequencer

import (
	"context"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/treasuryops/stablepay/pkg/ledger"
)

// TestSequenceUniquenessProperty verifies that for any number of concurrent
// callers spread over any number of accounts, no sequence number is ever
// handed out twice for the same account.
func TestSequenceUniquenessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("no account ever sees a duplicate sequence number", prop.ForAll(
		func(callers uint8, accounts uint8) bool {
			if accounts == 0 {
				accounts = 1
			}
			ctx := context.Background()
			s := New(ledger.NewMemoryLedger())

			type assignment struct {
				account string
				seq     uint64
			}
			results := make(chan assignment, int(callers))

			var wg sync.WaitGroup
			for i := 0; i < int(callers); i++ {
				addr := string(rune('A' + int(uint8(i)%accounts)))
				wg.Add(1)
				go func(addr string) {
					defer wg.Done()
					seq, err := s.Next(ctx, addr)
					if err != nil {
						return
					}
					results <- assignment{account: addr, seq: seq}
				}(addr)
			}
			wg.Wait()
			close(results)

			seen := make(map[assignment]bool)
			for a := range results {
				if seen[a] {
					return false
				}
				seen[a] = true
			}
			return len(seen) == int(callers)
		},
		gen.UInt8(),
		gen.UInt8Range(1, 8),
	))

	properties.TestingRun(t)
}
