// Package beneficiary decides whether a paid destination is already saved
// and manages the saved beneficiary list.
package beneficiary

import (
	"sync"

	"txflow/pkg/backend"

	"github.com/bits-and-blooms/bloom/v3"
)

// Beneficiary is a saved destination.
type Beneficiary = backend.Beneficiary

// Exists reports whether list holds a beneficiary with exactly this
// category, provider and account number. Matching is case-sensitive.
func Exists(list []Beneficiary, category, providerID, accountNumber string) bool {
	for _, b := range list {
		if b.Category == category && b.ProviderID.String() == providerID && b.AccountNumber == accountNumber {
			return true
		}
	}
	return false
}

func identity(category, providerID, accountNumber string) []byte {
	return []byte(category + "\x00" + providerID + "\x00" + accountNumber)
}

// Index answers Exists for a fixed list, using a bloom filter to skip the
// scan for destinations that were never saved. Answers always equal Exists.
type Index struct {
	list   []Beneficiary
	filter *bloom.BloomFilter

	mu             sync.Mutex
	totalQueries   uint64
	bloomRejected  uint64
	falsePositives uint64
}

// NewIndex builds an index over list with the given false positive rate.
func NewIndex(list []Beneficiary, falsePositiveRate float64) *Index {
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	n := uint(len(list))
	if n < 16 {
		n = 16
	}

	filter := bloom.NewWithEstimates(n, falsePositiveRate)
	for _, b := range list {
		filter.Add(identity(b.Category, b.ProviderID.String(), b.AccountNumber))
	}
	return &Index{list: list, filter: filter}
}

// Contains reports whether the destination is in the indexed list.
func (i *Index) Contains(category, providerID, accountNumber string) bool {
	i.mu.Lock()
	i.totalQueries++
	if !i.filter.Test(identity(category, providerID, accountNumber)) {
		i.bloomRejected++
		i.mu.Unlock()
		return false
	}
	i.mu.Unlock()

	found := Exists(i.list, category, providerID, accountNumber)
	if !found {
		i.mu.Lock()
		i.falsePositives++
		i.mu.Unlock()
	}
	return found
}

// Len returns the number of indexed beneficiaries.
func (i *Index) Len() int {
	return len(i.list)
}

// IndexStats holds statistics about bloom filter performance.
type IndexStats struct {
	TotalQueries      uint64
	BloomRejected     uint64
	FalsePositives    uint64
	RejectionRate     float64
	FalsePositiveRate float64
}

// Stats returns statistics about the index.
func (i *Index) Stats() IndexStats {
	i.mu.Lock()
	defer i.mu.Unlock()

	stats := IndexStats{
		TotalQueries:   i.totalQueries,
		BloomRejected:  i.bloomRejected,
		FalsePositives: i.falsePositives,
	}
	if i.totalQueries > 0 {
		stats.RejectionRate = float64(i.bloomRejected) / float64(i.totalQueries)
		if queried := i.totalQueries - i.bloomRejected; queried > 0 {
			stats.FalsePositiveRate = float64(i.falsePositives) / float64(queried)
		}
	}
	return stats
}
