package audit

import "time"

// Action labels a ledger entry.
type Action string

const (
	ActionSearch         Action = "SEARCH"
	ActionIngest         Action = "INGEST"
	ActionCSVUploadStart Action = "CSV_UPLOAD_START"
	ActionCSVUpload      Action = "CSV_UPLOAD"
	ActionReindex        Action = "REINDEX"
	ActionRecordView     Action = "RECORD_VIEW"
	ActionRecordDelete   Action = "RECORD_DELETE"
	ActionRiskReset      Action = "RISK_RESET"
)

// Block is one link of the integrity chain.
type Block struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Actor        string    `json:"actor"`
	Action       Action    `json:"action"`
	Detail       string    `json:"detail"`
	PreviousHash string    `json:"previous_hash"`
	CurrentHash  string    `json:"current_hash"`
}

// Entry is the human-browsable audit record written alongside every block.
// Its content hash is not chained.
type Entry struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Actor       string    `json:"actor"`
	Action      Action    `json:"action"`
	Detail      string    `json:"detail"`
	ContentHash string    `json:"content_hash"`
}

// VerifyStatus is the outcome of a chain walk.
type VerifyStatus string

const (
	StatusVerified       VerifyStatus = "VERIFIED"
	StatusTamperDetected VerifyStatus = "TAMPER_DETECTED"
)

// VerifyResult is the tamper-check report. FirstBadBlockID is set only when
// Status is StatusTamperDetected.
type VerifyResult struct {
	Status          VerifyStatus `json:"status"`
	TotalBlocks     int          `json:"total_blocks"`
	FirstBadBlockID *int64       `json:"first_bad_block_id,omitempty"`
	LastHash        string       `json:"last_hash,omitempty"`
}

// OK reports whether the chain verified.
func (r VerifyResult) OK() bool { return r.Status == StatusVerified }
