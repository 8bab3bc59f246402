// Package integrity provides tamper-evident hashing and Merkle tree construction
// for arbitration decisions and the audit journal. All functions are pure and
// deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/tazuna-ai/tazuna/internal/model"
)

// Hash version prefix. The v1 format is length-prefixed binary encoding,
// which avoids delimiter collisions when freeform text fields contain
// separator characters.
const hashV1Prefix = "v1:"

// DecisionHash produces a versioned SHA-256 hex digest over the canonical
// fields of an arbitration decision. Execution fields and the stored hash
// itself are excluded: they are the only fields allowed to change after
// persistence.
func DecisionHash(d *model.ArbitrationDecision) string {
	return hashV1Prefix + decisionDigest(d)
}

// VerifyDecisionHash checks whether the stored content hash matches the
// recomputed hash of the decision's canonical fields.
func VerifyDecisionHash(d *model.ArbitrationDecision) bool {
	if !strings.HasPrefix(d.ContentHash, hashV1Prefix) {
		return false
	}
	return d.ContentHash == hashV1Prefix+decisionDigest(d)
}

// decisionDigest encodes each field with a 4-byte big-endian length prefix
// followed by the field bytes.
func decisionDigest(d *model.ArbitrationDecision) string {
	h := sha256.New()
	writeField := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // field lengths are bounded by request body limits
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}

	writeField(d.ID.String())
	conflictID := ""
	if d.ConflictID != nil {
		conflictID = d.ConflictID.String()
	}
	writeField(conflictID)
	writeField(d.PolicyID.String())
	writeField(d.PolicyName)
	writeField(string(d.StrategyUsed))
	writeField(string(d.Outcome))
	winner := ""
	if d.WinningProposalID != nil {
		winner = *d.WinningProposalID
	}
	writeField(winner)
	writeField(strings.Join(d.SuppressedProposalIDs, ","))
	writeField(strings.Join(d.VetoedProposalIDs, ","))
	for _, f := range d.DecisionFactors {
		writeField(f.ProposalID)
		writeField(f.AgentName)
		writeField(f.Factor)
		writeField(f.Value)
		writeField(string(f.Impact))
	}
	writeField(d.ReasoningSummary)
	writeField(d.EscalationReason)
	writeField(fmt.Sprintf("%t", d.RequiresHumanApproval))
	writeField(d.CreatedAt.UTC().Format(time.RFC3339Nano))

	return hex.EncodeToString(h.Sum(nil))
}

// EntryHash produces a SHA-256 hex digest over the RFC 8785 canonical JSON
// form of a journal entry, with the stored hash cleared before encoding.
// Structurally equal entries hash identically regardless of map field order.
func EntryHash(e model.JournalEntry) (string, error) {
	e.ContentHash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("integrity: encode journal entry: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("integrity: canonicalize journal entry: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hashV1Prefix + hex.EncodeToString(sum[:]), nil
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string.
// The 0x01 prefix is a domain separator for internal Merkle tree nodes (per RFC 6962),
// ensuring internal node hashes can never collide with leaf content hashes.
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01}) // internal node domain separator
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree from leaf hashes and returns the root.
// Leaves must be sorted lexicographically by the caller for determinism.
// If leaves is empty, returns an empty string.
// If leaves has one element, the root is that element.
// Odd-length levels hash the last node with itself for structural binding.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	// Build tree bottom-up.
	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				// Odd node: hash with itself for structural binding to tree position.
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}
