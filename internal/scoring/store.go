package scoring

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/COORDINATOR/internal/storage"
)

// DBRecorder persists scoring decisions to the dq_scores table.
type DBRecorder struct {
	db *storage.DB
}

func NewDBRecorder(db *storage.DB) *DBRecorder {
	return &DBRecorder{db: db}
}

// RecordDQScore stores one routing decision. Queries are identified by
// a short content hash; only a preview of the text is kept.
func (r *DBRecorder) RecordDQScore(result ScoreResult) error {
	sum := md5.Sum([]byte(result.Query))
	hash := hex.EncodeToString(sum[:])[:8]

	preview := result.Query
	if len(preview) > 100 {
		preview = preview[:100]
	}

	_, err := r.db.Conn().Exec(`
		INSERT INTO dq_scores (query_hash, query_preview, complexity, model,
		                       dq_score, validity, specificity, correctness)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		hash, preview, result.Complexity, result.Model,
		result.DQ.Score, result.DQ.Components.Validity,
		result.DQ.Components.Specificity, result.DQ.Components.Correctness)
	if err != nil {
		return fmt.Errorf("failed to record dq score: %w", err)
	}
	return nil
}
