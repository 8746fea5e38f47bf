package feedback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/store"
)

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type correction struct {
	module, action, text string
	age                  time.Duration
}

func seedCorrections(t *testing.T, s *store.MemoryStore, cs ...correction) {
	t.Helper()
	for i, c := range cs {
		text := c.text
		require.NoError(t, s.InsertReceipt(context.Background(), &governance.Receipt{
			ID:         fmt.Sprintf("r%d", i),
			Module:     c.module,
			ActionType: c.action,
			CreatedAt:  now.Add(-c.age),
			TrustLevel: governance.TrustPropose,
			Status:     governance.StatusCorrected,
			Correction: &text,
		}))
	}
}

func newDetector(s *store.MemoryStore) *Detector {
	d := NewDetector(s, nil, zap.NewNop())
	d.now = func() time.Time { return now }
	return d
}

func TestDetect_ClustersNearDuplicates(t *testing.T) {
	s := store.NewMemoryStore()
	seedCorrections(t, s,
		correction{"email", "classify", "Facture URSSAF → finance", 3 * time.Hour},
		correction{"email", "classify", "Meeting notes → personal", 2 * time.Hour},
		correction{"email", "classify", "Factures URSSAF → finance", time.Hour},
	)

	clusters, err := newDetector(s).Detect(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, clusters, 1)

	c := clusters[0]
	assert.Equal(t, "email", c.Module)
	assert.Equal(t, "classify", c.ActionType)
	assert.Equal(t, []string{"r0", "r2"}, c.ReceiptIDs)
	assert.Equal(t, "finance", c.Category)
	assert.Contains(t, c.Keywords, "urssaf")
	assert.GreaterOrEqual(t, c.Similarity, SimilarityThreshold)
}

func TestDetect_DissimilarPairsDoNotCluster(t *testing.T) {
	s := store.NewMemoryStore()
	seedCorrections(t, s,
		correction{"email", "classify", "URSSAF → finance", 2 * time.Hour},
		correction{"email", "classify", "Meeting notes → personal", time.Hour},
	)

	clusters, err := newDetector(s).Detect(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestDetect_GroupsByAction(t *testing.T) {
	s := store.NewMemoryStore()
	seedCorrections(t, s,
		correction{"email", "classify", "Facture URSSAF → finance", 2 * time.Hour},
		correction{"archiviste", "move_document", "Factures URSSAF → finance", time.Hour},
	)

	clusters, err := newDetector(s).Detect(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, clusters)
}

func TestDetect_Window(t *testing.T) {
	s := store.NewMemoryStore()
	seedCorrections(t, s,
		correction{"email", "classify", "Facture URSSAF → finance", 10 * 24 * time.Hour},
		correction{"email", "classify", "Factures URSSAF → finance", time.Hour},
	)

	clusters, err := newDetector(s).Detect(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, clusters)

	clusters, err = newDetector(s).Detect(context.Background(), 14)
	require.NoError(t, err)
	assert.Len(t, clusters, 1)
}

func TestDetect_FirstSeenWins(t *testing.T) {
	s := store.NewMemoryStore()
	seedCorrections(t, s,
		correction{"email", "classify", "abcdefghij", 4 * time.Hour},
		correction{"email", "classify", "zzzzzzzzzz", 3 * time.Hour},
		correction{"email", "classify", "abcdefghiz", 2 * time.Hour},
		correction{"email", "classify", "zzzzzzzzzy", time.Hour},
	)

	clusters, err := newDetector(s).Detect(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, []string{"r0", "r2"}, clusters[0].ReceiptIDs)
	assert.Equal(t, []string{"r1", "r3"}, clusters[1].ReceiptIDs)
	assert.Empty(t, clusters[0].Category)
}
