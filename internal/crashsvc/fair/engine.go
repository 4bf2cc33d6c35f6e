package fair

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

const (
	MinMultiplier = 1.00
	MaxMultiplier = 1000.00

	// VerifyTolerance absorbs the 2-decimal rounding applied when a
	// crash point is published. Used by Verify and nowhere else.
	VerifyTolerance = 0.01
)

type Config struct {
	SeedBytes int     // server seed length before hex encoding
	HouseEdge float64 // probability discount, e.g. 0.01 for 1%
}

// Engine derives provably fair crash multipliers. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	if cfg.SeedBytes <= 0 {
		cfg.SeedBytes = 32
	}
	if cfg.HouseEdge <= 0 {
		cfg.HouseEdge = 0.01
	}
	return &Engine{cfg: cfg}
}

// GenerateServerSeed returns a fresh hex-encoded secret from the CSPRNG.
func (e *Engine) GenerateServerSeed() string {
	b := make([]byte, e.cfg.SeedBytes)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Commit returns the SHA-256 commitment published before a round opens,
// so players can later check the seed was not swapped.
func (e *Engine) Commit(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// ComputeOutcome derives the crash multiplier from the seeds and nonce.
//
//	digest = HMAC-SHA256(serverSeed, "clientSeed:nonce")
//	v      = first 32 bits of digest
//	p      = v / 2^32
//	p'     = p * (1 - houseEdge)
//	out    = 1/p' clamped to [1.00, 1000.00], p' = 0 -> 1.00
//
// The result is rounded to 2 decimals here and only here; the rounded
// figure is what gets stored, published and verified.
func (e *Engine) ComputeOutcome(serverSeed, clientSeed string, nonce int64) float64 {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	fmt.Fprintf(mac, "%s:%d", clientSeed, nonce)
	sum := mac.Sum(nil)

	v := binary.BigEndian.Uint32(sum[:4])
	p := float64(v) / float64(1<<32)
	p *= 1 - e.cfg.HouseEdge

	if p <= 0 {
		return MinMultiplier
	}
	out := 1 / p
	if out < MinMultiplier {
		out = MinMultiplier
	}
	if out > MaxMultiplier {
		out = MaxMultiplier
	}
	return math.Round(out*100) / 100
}

// Verify recomputes the outcome and compares it with the claimed,
// published value. Malformed input yields false, never a panic.
func (e *Engine) Verify(serverSeed, clientSeed string, nonce int64, claimed float64) bool {
	if claimed < MinMultiplier || claimed > MaxMultiplier || math.IsNaN(claimed) {
		return false
	}
	return math.Abs(e.ComputeOutcome(serverSeed, clientSeed, nonce)-claimed) <= VerifyTolerance
}

// Round bundles everything a round needs from the fairness engine.
type Round struct {
	ServerSeed     string
	ServerSeedHash string
	ClientSeed     string
	Nonce          int64
	CrashPoint     float64
}

// GenerateRound produces a fresh seed, its commitment and the outcome
// for the given client seed and nonce. CrashPoint is exactly
// ComputeOutcome's result; nothing may adjust it afterwards, or the
// commitment proof breaks.
func (e *Engine) GenerateRound(clientSeed string, nonce int64) Round {
	if clientSeed == "" {
		b := make([]byte, 16)
		rand.Read(b)
		clientSeed = hex.EncodeToString(b)
	}
	seed := e.GenerateServerSeed()
	return Round{
		ServerSeed:     seed,
		ServerSeedHash: e.Commit(seed),
		ClientSeed:     clientSeed,
		Nonce:          nonce,
		CrashPoint:     e.ComputeOutcome(seed, clientSeed, nonce),
	}
}
