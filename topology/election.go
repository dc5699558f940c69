package topology

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
	"sync"

	"github.com/mickamy/govalkey/transport"
)

// Candidate is the canonical, order-independent fingerprint of a cluster
// description, used as the equivalence key for voting: two descriptions
// that canonicalize to the same Candidate are the same topology as far as
// the election is concerned.
type Candidate struct {
	Shards []Shard
}

// Fingerprint returns a stable string key for Candidate equality, built
// from its already-sorted shard list so two Candidates with identical
// content always hash equal regardless of the order nodes reported them in.
// The hash deliberately excludes node-ids: a node-id changes across a
// failover even when the (endpoint, port) serving a shard does not, and two
// descriptions that agree on every endpoint and slot assignment are the
// same topology as far as the election is concerned.
func (c Candidate) Fingerprint() string {
	h := sha256.New()
	for _, s := range c.Shards {
		writeAddress(h, s.Primary.Address)
		for _, rep := range s.Replicas {
			writeAddress(h, rep.Address)
		}
		for _, r := range s.Slots {
			h.Write([]byte(strconv.Itoa(int(r.Start))))
			h.Write([]byte(strconv.Itoa(int(r.End))))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeAddress(h hash.Hash, addr transport.Address) {
	h.Write([]byte(addr.Host))
	h.Write([]byte(strconv.Itoa(addr.Port)))
	h.Write([]byte(addr.UnixSocket))
}

func (c Candidate) nodeCount() int {
	n := 0
	for _, s := range c.Shards {
		n += 1 + len(s.Replicas)
	}
	return n
}

// Election runs quorum voting across voters reporting their observed
// topology. The winning threshold is floor(N/2)+1 where N is the winning
// candidate's own node count; the first candidate to reach it latches as
// the winner and later votes cannot overturn it, though they are still
// counted.
type Election struct {
	mu sync.Mutex

	votesByVoter map[string]string // voter id -> candidate fingerprint
	tally        map[string]int
	candidates   map[string]Candidate
	winner       *Candidate
}

// NewElection returns a fresh, empty Election.
func NewElection() *Election {
	return &Election{
		votesByVoter: make(map[string]string),
		tally:        make(map[string]int),
		candidates:   make(map[string]Candidate),
	}
}

// VoteReceived records voterID's vote for candidate, replacing any previous
// vote from the same voter, and returns the current tally. If this vote
// causes candidate to reach quorum and no winner is latched yet, candidate
// becomes the winner.
func (e *Election) VoteReceived(candidate Candidate, voterID string) map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	fp := candidate.Fingerprint()
	e.candidates[fp] = candidate

	if prev, ok := e.votesByVoter[voterID]; ok {
		if prev == fp {
			return e.snapshotTally()
		}
		e.tally[prev]--
	}
	e.votesByVoter[voterID] = fp
	e.tally[fp]++

	if e.winner == nil {
		threshold := candidate.nodeCount()/2 + 1
		if e.tally[fp] >= threshold {
			c := candidate
			e.winner = &c
		}
	}

	return e.snapshotTally()
}

func (e *Election) snapshotTally() map[string]int {
	out := make(map[string]int, len(e.tally))
	for k, v := range e.tally {
		out[k] = v
	}
	return out
}

// Winner returns the latched winning Candidate, if any.
func (e *Election) Winner() (Candidate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.winner == nil {
		return Candidate{}, false
	}
	return *e.winner, true
}

// Reset clears all votes and the latched winner, for starting a fresh
// discovery round.
func (e *Election) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.votesByVoter = make(map[string]string)
	e.tally = make(map[string]int)
	e.candidates = make(map[string]Candidate)
	e.winner = nil
}
