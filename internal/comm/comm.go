package comm

import "encoding/json"

// NATS subjects the settlement core publishes on. Quest, referral and
// reporting services consume these asynchronously; delivery never
// participates in ledger atomicity.
const (
	SubjectSettlement = "crash.settlement"
	SubjectRound      = "crash.round"
)

// Envelope wraps every published payload with its type tag.
type Envelope struct {
	Type string          `json:"type"` // e.g. "bet-placed", "round-crashed"
	Data json.RawMessage `json:"data"`
}

type BetPlaced struct {
	UserID      int64  `json:"user_id"`
	BetID       string `json:"bet_id"`
	RoundID     string `json:"round_id"`
	Amount      string `json:"amount"`
	AutoCashout string `json:"auto_cashout,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

type BetCashedOut struct {
	UserID     int64  `json:"user_id"`
	BetID      string `json:"bet_id"`
	RoundID    string `json:"round_id"`
	Amount     string `json:"amount"`
	Multiplier string `json:"multiplier"`
	Payout     string `json:"payout"`
	Timestamp  int64  `json:"timestamp"`
}

type BetLost struct {
	UserID     int64  `json:"user_id"`
	BetID      string `json:"bet_id"`
	RoundID    string `json:"round_id"`
	Amount     string `json:"amount"`
	CrashPoint string `json:"crash_point"`
	Timestamp  int64  `json:"timestamp"`
}

// RoundOpened is the pre-round fairness publication: the commitment is
// public, the seed is not.
type RoundOpened struct {
	RoundID        string `json:"round_id"`
	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`
	Nonce          int64  `json:"nonce"`
	Timestamp      int64  `json:"timestamp"`
}

type RoundCrashed struct {
	RoundID    string `json:"round_id"`
	CrashPoint string `json:"crash_point"`
	Timestamp  int64  `json:"timestamp"`
}

// SeedRevealed completes the provably-fair loop once the disclosure
// delay has elapsed; everything needed for independent verification is
// in here.
type SeedRevealed struct {
	RoundID        string `json:"round_id"`
	ServerSeed     string `json:"server_seed"`
	ServerSeedHash string `json:"server_seed_hash"`
	ClientSeed     string `json:"client_seed"`
	Nonce          int64  `json:"nonce"`
	CrashPoint     string `json:"crash_point"`
	Timestamp      int64  `json:"timestamp"`
}
