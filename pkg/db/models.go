package db

import "time"

// Record is the canonical lexicon entry being curated.
type Record struct {
	ID        int64
	Title     string
	Body      string
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Status is the lifecycle state of a Proposal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ReasonSuperseded is recorded on a pending proposal that was replaced by a
// newer generation for the same record.
const ReasonSuperseded = "superseded"

// Proposal is a candidate edit for a Record.
type Proposal struct {
	ID       string
	RecordID int64

	// ProposedTitle is empty when the title is left unchanged.
	ProposedTitle string
	ProposedBody  string

	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMs        int64
	GeneratedAt      time.Time

	Status    Status
	Reason    string
	DecidedAt *time.Time
}

// Draft carries the generated content for a new proposal.
type Draft struct {
	Title            string
	Body             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMs        int64
	GeneratedAt      time.Time
}

// PendingProposal pairs a pending proposal with the current state of its record.
type PendingProposal struct {
	Proposal
	Record Record
}
