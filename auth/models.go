package auth

import "time"

type Role string

const (
	RoleParticipant Role = "participant"
	RoleRequester   Role = "requester"
	RoleOwner       Role = "owner"
	// RoleLedger is held by the token ledger service that delivers deposits.
	RoleLedger Role = "ledger"
)

// Account is an authenticated principal. Name is the account address used by
// the engines (asserter, disputer, voter, requester, owner).
type Account struct {
	ID           string
	Name         string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// LoginRequest contains account login credentials.
type LoginRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}
