package db

import "time"

type ConsentRecordModel struct {
	ConsentID      string     `gorm:"primaryKey"`
	SubjectRef     string     `gorm:"index;not null"`
	ControllerRef  string     `gorm:"index;not null"`
	PurposeRef     string     `gorm:"not null"`
	CategoriesJSON []byte     `gorm:"type:jsonb;not null"`
	LawfulBasis    string     `gorm:"not null"`
	Status         string     `gorm:"index;not null"`
	GrantedAt      time.Time  `gorm:"not null"`
	ExpiresAt      *time.Time
	RevokedAt      *time.Time

	AnchorTxID  string
	AnchorProof string
	AnchoredAt  *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ConsentRecordModel) TableName() string { return "consent_records" }

type AuditEventModel struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	Seq           int64     `gorm:"uniqueIndex;not null"`
	EventType     string    `gorm:"not null"`
	ConsentID     string    `gorm:"index;not null"`
	ActorRef      string    `gorm:"not null"`
	BeforeStatus  string    `gorm:"not null"`
	AfterStatus   string    `gorm:"not null"`
	PayloadHash   string    `gorm:"not null"`
	PrevEventHash string    `gorm:"not null"`
	EventHash     string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (AuditEventModel) TableName() string { return "audit_events" }

// AuditSeqModel is the chain cursor. A single row per chain is locked
// FOR UPDATE on every append, which totally orders the audit log across
// processes.
type AuditSeqModel struct {
	Chain string `gorm:"primaryKey"`
	Seq   int64  `gorm:"not null"`
}

func (AuditSeqModel) TableName() string { return "audit_seq" }

type AnchorAttemptModel struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	ConsentID   string `gorm:"index;not null"`
	Backend     string `gorm:"not null"`
	Kind        string `gorm:"not null"`
	Status      string `gorm:"not null"`
	ErrorCode   *string
	PayloadHash string
	CreatedAt   time.Time `gorm:"not null"`
}

func (AnchorAttemptModel) TableName() string { return "anchor_attempts" }

type PrincipalKeyModel struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	PrincipalRef string    `gorm:"index;not null"`
	Alg          string    `gorm:"not null"`
	PublicKey    []byte    `gorm:"type:bytea;not null"`
	Status       string    `gorm:"index;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (PrincipalKeyModel) TableName() string { return "principal_keys" }
