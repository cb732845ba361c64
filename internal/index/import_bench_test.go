package index

import (
	"context"
	"fmt"
	"testing"

	"github.com/Aman-CERP/indexsync/internal/store"
)

// BenchmarkImport_All imports every record of sources of increasing size.
func BenchmarkImport_All(b *testing.B) {
	for _, scale := range []int{100, 1000, 5000} {
		b.Run(fmt.Sprintf("records_%d", scale), func(b *testing.B) {
			f := newFixture(b, scale)
			idx := f.index(b)
			ctx := context.Background()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, err := idx.Import(ctx, store.All()); err != nil {
					b.Fatalf("import failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkImport_Parallel compares worker counts on one source.
func BenchmarkImport_Parallel(b *testing.B) {
	f := newFixture(b, 2000)
	idx := f.index(b)
	ctx := context.Background()

	for _, workers := range []int{1, 2, 4} {
		b.Run(fmt.Sprintf("workers_%d", workers), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := idx.Import(ctx, store.All(), WithBatchSize(250), WithParallel(workers)); err != nil {
					b.Fatalf("import failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkImport_IDs measures the urgent path: a small id list per call.
func BenchmarkImport_IDs(b *testing.B) {
	f := newFixture(b, 1000)
	idx := f.index(b)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		ids := []string{fmt.Sprint(i%1000 + 1), fmt.Sprint((i+500)%1000 + 1)}
		if _, err := idx.Import(ctx, store.ByIDs(ids...)); err != nil {
			b.Fatalf("import failed: %v", err)
		}
	}
}
