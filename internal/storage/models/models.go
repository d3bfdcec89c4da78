package models

import "time"

type Category string

const (
	CategoryReturns    Category = "returns"
	CategoryBilling    Category = "billing"
	CategoryShipping   Category = "shipping"
	CategoryTechnical  Category = "technical"
	CategoryAccount    Category = "account"
	CategoryProduct    Category = "product"
	CategoryEscalation Category = "escalation"
	CategoryGeneral    Category = "general"
)

// Categories lists the scored categories in declaration order. Ties in
// categorization resolve to the earlier entry; "general" is the zero-score
// fallback and is never scored directly.
var Categories = []Category{
	CategoryReturns,
	CategoryBilling,
	CategoryShipping,
	CategoryTechnical,
	CategoryAccount,
	CategoryProduct,
	CategoryEscalation,
}

type Section struct {
	Title      string
	Content    string
	Keywords   []string
	OrderIndex int
}

// ProcedureDocument is the indexed unit: one procedural wiki page after
// normalization, classification and keyword extraction. Sections are
// re-derivable from CleanContent at any time.
type ProcedureDocument struct {
	ID           string
	Title        string
	RawContent   string
	CleanContent string
	Sections     []Section
	Category     Category
	Keywords     []string
	Version      int
	LastModified time.Time
	Labels       []string
}

type SyncError struct {
	PageID  string
	Message string
}

type SyncResult struct {
	Total   int
	Added   int
	Updated int
	Removed int
	Errors  []SyncError
}

type SyncRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Full       bool
	Result     SyncResult
}

type QualityReport struct {
	Score       int
	IsValid     bool
	Issues      []string
	Suggestions []string
}
