package generation

import "time"

// Kind selects one of the three content pipelines. Each kind persists
// jobs in its own table but shares the same lifecycle.
type Kind string

const (
	KindDocument Kind = "document"
	KindNote     Kind = "note"
	KindTextbook Kind = "textbook"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDocument, KindNote, KindTextbook:
		return true
	}
	return false
}

func (k Kind) table() string {
	switch k {
	case KindDocument:
		return "document_jobs"
	case KindNote:
		return "note_jobs"
	case KindTextbook:
		return "textbook_jobs"
	}
	return ""
}

// HasActivity reports whether the kind mirrors its lifecycle into the
// activities usage ledger.
func (k Kind) HasActivity() bool {
	return k == KindNote || k == KindTextbook
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition happens without a new
// regeneration request.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobCore holds the lifecycle columns shared by all three job tables.
// Params is the kind-specific generation config captured at submission
// time, immutable once the job starts processing.
type JobCore struct {
	ID     string `gorm:"primaryKey;size:26"` // ULID length
	UserID uint64 `gorm:"index;not null"`

	Status Status `gorm:"type:varchar(16);index;not null"`

	// Raw input lives in the object store; document jobs carry the
	// prompt inline instead.
	InputKey   string `gorm:"type:varchar(255)"`
	PromptText string `gorm:"type:text"`

	// Set once, on first successful generation. Regeneration
	// overwrites the object at the same key.
	OutputKey *string `gorm:"type:varchar(255)"`

	Params []byte `gorm:"type:json"`

	// Filled only on failure.
	Error *string `gorm:"type:text"`

	CreatedAt     time.Time
	UpdatedAt     time.Time
	RegeneratedAt *time.Time
}

type DocumentJob struct{ JobCore }

func (DocumentJob) TableName() string { return "document_jobs" }

type NoteJob struct{ JobCore }

func (NoteJob) TableName() string { return "note_jobs" }

type TextbookJob struct{ JobCore }

func (TextbookJob) TableName() string { return "textbook_jobs" }

// Activity mirrors note/textbook job lifecycles for usage reporting.
// Created in the same transaction as its job and updated in lockstep.
type Activity struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	JobKind        Kind      `gorm:"type:varchar(16);index:idx_activity_job,unique,priority:1;not null" json:"job_kind"`
	JobID          string    `gorm:"size:26;index:idx_activity_job,unique,priority:2;not null" json:"job_id"`
	UserID         uint64    `gorm:"index;not null" json:"-"`
	Status         Status    `gorm:"type:varchar(16);not null" json:"status"`
	TokensSent     int       `gorm:"not null;default:0" json:"tokens_sent"`
	TokensReceived int       `gorm:"not null;default:0" json:"tokens_received"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Activity) TableName() string { return "activities" }

// Models returns every gorm model for automigration.
func Models() []any {
	return []any{&DocumentJob{}, &NoteJob{}, &TextbookJob{}, &Activity{}}
}
