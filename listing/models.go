package listing

import "time"

// Kind distinguishes a property listing from a search ad.
type Kind string

const (
	KindAnnonce   Kind = "annonce"
	KindRecherche Kind = "recherche"
)

// Post captures the subset of listing data the collaboration engine needs:
// the reference collaborations point at, ownership, and the transaction
// value used to project percentage shares when a price is known.
type Post struct {
	ID               string
	Reference        string
	Kind             Kind
	OwnerUserID      string
	TransactionValue *float64
	CreatedAt        time.Time
}
