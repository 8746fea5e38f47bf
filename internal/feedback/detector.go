// Package feedback turns recurring human corrections into candidate rules.
package feedback

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/governance"
)

// Clustering parameters.
const (
	SimilarityThreshold = 0.85
	MinClusterSize      = 2
	MaxKeywords         = 5
	DefaultWindowDays   = 7
)

// PatternCluster is a group of similar corrections on one (module, action).
type PatternCluster struct {
	Module      string   `json:"module"`
	ActionType  string   `json:"action_type"`
	ReceiptIDs  []string `json:"receipt_ids"`
	Corrections []string `json:"corrections"`
	Keywords    []string `json:"keywords"`
	Category    string   `json:"category,omitempty"`
	Similarity  float64  `json:"similarity"` // mean pairwise similarity of members
}

// CorrectionSource lists corrected receipts.
type CorrectionSource interface {
	ListCorrected(ctx context.Context, since time.Time) ([]*governance.Receipt, error)
}

// Detector finds recurring correction patterns.
type Detector struct {
	receipts  CorrectionSource
	extractor CategoryExtractor
	logger    *zap.Logger
	now       func() time.Time
}

// NewDetector creates a Detector. A nil extractor uses ArrowExtractor.
func NewDetector(receipts CorrectionSource, extractor CategoryExtractor, logger *zap.Logger) *Detector {
	if extractor == nil {
		extractor = ArrowExtractor{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		receipts:  receipts,
		extractor: extractor,
		logger:    logger,
		now:       time.Now,
	}
}

// Detect clusters the corrections of the trailing days (DefaultWindowDays if
// days <= 0) per (module, action).
func (d *Detector) Detect(ctx context.Context, days int) ([]PatternCluster, error) {
	if days <= 0 {
		days = DefaultWindowDays
	}
	since := d.now().UTC().AddDate(0, 0, -days)
	receipts, err := d.receipts.ListCorrected(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("Detect: %w", err)
	}

	groups := map[[2]string][]*governance.Receipt{}
	var keys [][2]string
	for _, r := range receipts {
		if r.Correction == nil || *r.Correction == "" {
			continue
		}
		k := [2]string{r.Module, r.ActionType}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	var out []PatternCluster
	for _, k := range keys {
		for _, members := range cluster(groups[k]) {
			if len(members) < MinClusterSize {
				continue
			}
			out = append(out, d.describe(k[0], k[1], members))
		}
	}
	d.logger.Info("correction patterns detected",
		zap.Int("days", days),
		zap.Int("corrections", len(receipts)),
		zap.Int("clusters", len(out)),
	)
	return out, nil
}

// cluster assigns each receipt to the first existing cluster holding a
// member similar enough to it, or starts a new one.
func cluster(receipts []*governance.Receipt) [][]*governance.Receipt {
	var clusters [][]*governance.Receipt
next:
	for _, r := range receipts {
		for i, c := range clusters {
			for _, m := range c {
				if Similarity(*r.Correction, *m.Correction) >= SimilarityThreshold {
					clusters[i] = append(c, r)
					continue next
				}
			}
		}
		clusters = append(clusters, []*governance.Receipt{r})
	}
	return clusters
}

func (d *Detector) describe(module, action string, members []*governance.Receipt) PatternCluster {
	pc := PatternCluster{Module: module, ActionType: action}
	for _, m := range members {
		pc.ReceiptIDs = append(pc.ReceiptIDs, m.ID)
		pc.Corrections = append(pc.Corrections, *m.Correction)
	}
	pc.Keywords = Keywords(pc.Corrections, MaxKeywords)
	pc.Category = majorityCategory(d.extractor, pc.Corrections)
	pc.Similarity = meanSimilarity(pc.Corrections)
	return pc
}

func meanSimilarity(texts []string) float64 {
	var sum float64
	var pairs int
	for i := range texts {
		for j := i + 1; j < len(texts); j++ {
			sum += Similarity(texts[i], texts[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 1
	}
	return sum / float64(pairs)
}
