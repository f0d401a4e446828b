package types

// Patron identifies the library account a payment is made for.
type Patron struct {
	ID          string `json:"id"`
	CatUsername string `json:"cat_username" binding:"required"`
	SourceILS   string `json:"source_ils"`
	Email       string `json:"email,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
}

// User is the catalog account that owns the payment.
type User struct {
	ID       string `json:"id" binding:"required"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}
