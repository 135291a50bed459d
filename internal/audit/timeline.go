package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Kind membedakan jenis event audit GL.
type Kind string

const (
	KindPosting        Kind = "posting"
	KindReconciliation Kind = "reconciliation"
)

// Status rekonsiliasi per (period, axis).
const (
	StatusUnreconciled     = "UNRECONCILED"
	StatusReconciled       = "RECONCILED"
	StatusVarianceDetected = "VARIANCE_DETECTED"
)

// StatusEvent mencatat satu transisi posting_status transaksi sumber.
type StatusEvent struct {
	Seq      int64                `json:"seq"`
	SourceID uuid.UUID            `json:"source_id"`
	From     shared.PostingStatus `json:"from"`
	To       shared.PostingStatus `json:"to"`
	ActorID  int64                `json:"actor_id"`
	At       time.Time            `json:"at"`
	BatchID  *uuid.UUID           `json:"batch_id,omitempty"`
	Reason   string               `json:"reason,omitempty"`
}

// ReconciliationEvent mencatat hasil satu run rekonsiliasi.
type ReconciliationEvent struct {
	Seq      int64     `json:"seq"`
	ReportID uuid.UUID `json:"report_id"`
	Period   string    `json:"period"`
	Axis     string    `json:"axis"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	ActorID  int64     `json:"actor_id"`
	At       time.Time `json:"at"`
}

// TimelineFilters menampung filter dasar untuk audit timeline.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	ActorID  int64
	Kind     Kind
	Page     int
	PageSize int
}

// TimelineRow mewakili satu baris audit timeline.
type TimelineRow struct {
	Seq      int64     `json:"seq"`
	At       time.Time `json:"at"`
	ActorID  int64     `json:"actor_id"`
	Kind     Kind      `json:"kind"`
	EntityID string    `json:"entity_id"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Detail   string    `json:"detail,omitempty"`
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}
