// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package datafeedkey

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/intake/lib/clock"
)

var (
	// ErrMalformedKey means the presented value is not a raw key.
	ErrMalformedKey = errors.New("datafeedkey: malformed key")

	// ErrUnsupportedAlgorithm means the key's algorithm tag has no
	// configured hasher.
	ErrUnsupportedAlgorithm = errors.New("datafeedkey: unsupported hash algorithm")

	// ErrNotFound means no loaded key matches.
	ErrNotFound = errors.New("datafeedkey: key not found")

	// ErrExpired means the key matched but is past its expiry.
	ErrExpired = errors.New("datafeedkey: key expired")

	// ErrTooManyCandidates means finding the key would take more
	// hashes than StoreConfig.MaxCandidates allows. A subject hint
	// narrows the search.
	ErrTooManyCandidates = errors.New("datafeedkey: too many candidate keys")
)

// CachedKey is a loaded key together with the file it came from.
type CachedKey struct {
	HashedKey
	SourceFile string

	feedPattern *regexp.Regexp
}

// AllowsFeed reports whether the key may send to feed. Keys without a
// feed pattern may send to any feed.
func (key *CachedKey) AllowsFeed(feed string) bool {
	if key.feedPattern == nil {
		return true
	}
	return key.feedPattern.MatchString(feed)
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Hashers supplies one hasher per supported algorithm. Defaults
	// to DefaultHashers.
	Hashers []Hasher

	Clock  clock.Clock
	Logger *slog.Logger

	// MemoSize bounds the raw-key memo. Default 1024.
	MemoSize int

	// MemoTTL bounds how long a verified raw key skips hashing.
	// Default 10 minutes. Expiry is checked on every lookup
	// regardless.
	MemoTTL time.Duration

	// MaxCandidates bounds the hashes or verifications one lookup
	// performs. Default 16.
	MaxCandidates int
}

type indexKey struct {
	algorithm Algorithm
	hash      string
}

type keySet map[indexKey]*CachedKey

// Store indexes loaded keys by hash, by subject and by source file.
//
// Every removal purges the memo under the write lock, and memo
// insertions happen under the read lock after confirming the entry is
// still indexed, so the memo never holds a key the index has dropped.
type Store struct {
	hashers       map[Algorithm]Hasher
	clock         clock.Clock
	logger        *slog.Logger
	memo          *expirable.LRU[string, *CachedKey]
	maxCandidates int

	mu        sync.RWMutex
	byHash    keySet
	bySubject map[string]keySet
	bySource  map[string]keySet

	// salts counts, per algorithm, the keys using each salt. A
	// deterministic lookup hashes the presented key once per salt.
	salts map[Algorithm]map[string]int
}

// NewStore returns an empty Store.
func NewStore(config StoreConfig) *Store {
	if config.Hashers == nil {
		config.Hashers = DefaultHashers()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.MemoSize <= 0 {
		config.MemoSize = 1024
	}
	if config.MemoTTL <= 0 {
		config.MemoTTL = 10 * time.Minute
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = 16
	}

	hashers := make(map[Algorithm]Hasher, len(config.Hashers))
	for _, hasher := range config.Hashers {
		hashers[hasher.Algorithm()] = hasher
	}
	return &Store{
		hashers:   hashers,
		clock:     config.Clock,
		logger:    config.Logger,
		memo:          expirable.NewLRU[string, *CachedKey](config.MemoSize, nil, config.MemoTTL),
		maxCandidates: config.MaxCandidates,
		byHash:        make(keySet),
		bySubject:     make(map[string]keySet),
		bySource:      make(map[string]keySet),
		salts:         make(map[Algorithm]map[string]int),
	}
}

// AddAll replaces every key previously loaded from sourceFile with
// keys. Invalid entries are logged and skipped. Returns the number of
// keys indexed.
func (s *Store) AddAll(keys []HashedKey, sourceFile string) int {
	prepared := make([]*CachedKey, 0, len(keys))
	for i := range keys {
		key := keys[i]
		if err := key.Validate(); err != nil {
			s.logger.Warn("skipping invalid data-feed key",
				"file", sourceFile, "index", i, "error", err)
			continue
		}
		if _, ok := s.hashers[key.HashAlgorithm]; !ok {
			s.logger.Warn("skipping data-feed key with unconfigured algorithm",
				"file", sourceFile, "index", i, "algorithm", key.HashAlgorithm.String())
			continue
		}
		// Validate has already compiled the pattern once.
		pattern, _ := compileFeedPattern(key.FeedNamePattern)
		cached := &CachedKey{HashedKey: key, SourceFile: sourceFile, feedPattern: pattern}
		prepared = append(prepared, cached)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.bySource[sourceFile] {
		s.removeLocked(existing)
	}
	for _, cached := range prepared {
		index := indexKey{cached.HashAlgorithm, cached.Hash}
		if previous, ok := s.byHash[index]; ok {
			s.logger.Warn("data-feed key defined twice, later definition wins",
				"subject", cached.SubjectID, "previous_file", previous.SourceFile, "file", sourceFile)
			s.removeLocked(previous)
		}
		s.addLocked(index, cached)
	}
	s.memo.Purge()
	return len(prepared)
}

// RemoveAllFor drops every key loaded from sourceFile. Returns the
// number removed.
func (s *Store) RemoveAllFor(sourceFile string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, existing := range s.bySource[sourceFile] {
		s.removeLocked(existing)
		removed++
	}
	delete(s.bySource, sourceFile)
	if removed > 0 {
		s.memo.Purge()
	}
	return removed
}

// EvictExpired drops every expired key. Returns the number removed.
func (s *Store) EvictExpired() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*CachedKey
	for _, cached := range s.byHash {
		if cached.ExpiredAt(now) {
			expired = append(expired, cached)
		}
	}
	for _, cached := range expired {
		s.removeLocked(cached)
	}
	if len(expired) > 0 {
		s.memo.Purge()
	}
	return len(expired)
}

func (s *Store) addLocked(index indexKey, cached *CachedKey) {
	s.byHash[index] = cached
	addToSet(s.bySubject, cached.SubjectID, index, cached)
	addToSet(s.bySource, cached.SourceFile, index, cached)

	counts := s.salts[cached.HashAlgorithm]
	if counts == nil {
		counts = make(map[string]int)
		s.salts[cached.HashAlgorithm] = counts
	}
	counts[cached.Salt]++
}

func (s *Store) removeLocked(cached *CachedKey) {
	index := indexKey{cached.HashAlgorithm, cached.Hash}
	if s.byHash[index] != cached {
		return
	}
	delete(s.byHash, index)
	removeFromSet(s.bySubject, cached.SubjectID, index)
	removeFromSet(s.bySource, cached.SourceFile, index)

	if counts := s.salts[cached.HashAlgorithm]; counts != nil {
		counts[cached.Salt]--
		if counts[cached.Salt] <= 0 {
			delete(counts, cached.Salt)
		}
		if len(counts) == 0 {
			delete(s.salts, cached.HashAlgorithm)
		}
	}
}

func addToSet(sets map[string]keySet, name string, index indexKey, cached *CachedKey) {
	set := sets[name]
	if set == nil {
		set = make(keySet)
		sets[name] = set
	}
	set[index] = cached
}

func removeFromSet(sets map[string]keySet, name string, index indexKey) {
	set := sets[name]
	if set == nil {
		return
	}
	delete(set, index)
	if len(set) == 0 {
		delete(sets, name)
	}
}

// Lookup finds the loaded key matching rawKey. subjectHint, when
// non-empty, restricts the search to that subject's keys; a key
// belonging to another subject is not found.
//
// A value that is not syntactically a raw key fails with
// ErrMalformedKey before any hashing. A search needing more than
// MaxCandidates hashes fails with ErrTooManyCandidates before any
// hashing. An expired key fails with ErrExpired even when it was
// recently verified.
func (s *Store) Lookup(rawKey, subjectHint string) (*CachedKey, error) {
	algorithm, err := ParseRawKey(rawKey)
	if err != nil {
		return nil, err
	}
	hasher, ok := s.hashers[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, string(algorithm))
	}

	digest := blake3.Sum256([]byte(rawKey))
	memoKey := hex.EncodeToString(digest[:])
	if cached, ok := s.memo.Get(memoKey); ok {
		if subjectHint != "" && cached.SubjectID != subjectHint {
			return nil, ErrNotFound
		}
		return s.checkExpiry(cached)
	}

	var found *CachedKey
	if hasher.Deterministic() {
		found, err = s.findByHash(hasher, rawKey, subjectHint)
	} else {
		found, err = s.findByVerify(hasher, rawKey, subjectHint)
	}
	if errors.Is(err, ErrTooManyCandidates) {
		s.logger.Warn("data-feed key lookup refused",
			"algorithm", algorithm.String(), "subject_hint", subjectHint, "error", err)
	}
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	stillIndexed := s.byHash[indexKey{found.HashAlgorithm, found.Hash}] == found
	if stillIndexed {
		s.memo.Add(memoKey, found)
	}
	s.mu.RUnlock()
	if !stillIndexed {
		return nil, ErrNotFound
	}
	return s.checkExpiry(found)
}

func (s *Store) checkExpiry(cached *CachedKey) (*CachedKey, error) {
	if cached.ExpiredAt(s.clock.Now()) {
		return nil, fmt.Errorf("%w: subject %q expired at %s",
			ErrExpired, cached.SubjectID, cached.Expiry().UTC().Format(time.RFC3339))
	}
	return cached, nil
}

// candidatesLocked returns the keys a lookup may match: the hinted
// subject's keys, or every key when there is no hint.
func (s *Store) candidatesLocked(subjectHint string) keySet {
	if subjectHint != "" {
		return s.bySubject[subjectHint]
	}
	return s.byHash
}

func (s *Store) findByHash(hasher Hasher, rawKey, subjectHint string) (*CachedKey, error) {
	algorithm := hasher.Algorithm()

	s.mu.RLock()
	var salts []string
	if subjectHint == "" {
		salts = make([]string, 0, len(s.salts[algorithm]))
		for salt := range s.salts[algorithm] {
			salts = append(salts, salt)
		}
	} else {
		seen := make(map[string]bool)
		for _, cached := range s.candidatesLocked(subjectHint) {
			if cached.HashAlgorithm == algorithm && !seen[cached.Salt] {
				seen[cached.Salt] = true
				salts = append(salts, cached.Salt)
			}
		}
	}
	s.mu.RUnlock()
	if len(salts) > s.maxCandidates {
		return nil, fmt.Errorf("%w: %d salts, limit %d", ErrTooManyCandidates, len(salts), s.maxCandidates)
	}

	for _, salt := range salts {
		hash, err := hasher.Hash(rawKey, salt)
		if err != nil {
			return nil, err
		}
		s.mu.RLock()
		cached := s.byHash[indexKey{algorithm, hash}]
		s.mu.RUnlock()
		if cached == nil {
			continue
		}
		if subjectHint != "" && cached.SubjectID != subjectHint {
			continue
		}
		return cached, nil
	}
	return nil, nil
}

func (s *Store) findByVerify(hasher Hasher, rawKey, subjectHint string) (*CachedKey, error) {
	algorithm := hasher.Algorithm()
	var candidates []*CachedKey

	s.mu.RLock()
	for _, cached := range s.candidatesLocked(subjectHint) {
		if cached.HashAlgorithm == algorithm {
			candidates = append(candidates, cached)
		}
	}
	s.mu.RUnlock()
	if len(candidates) > s.maxCandidates {
		return nil, fmt.Errorf("%w: %d keys, limit %d", ErrTooManyCandidates, len(candidates), s.maxCandidates)
	}

	for _, candidate := range candidates {
		matched, err := hasher.Verify(rawKey, &candidate.HashedKey)
		if err != nil {
			s.logger.Warn("verifying data-feed key candidate",
				"subject", candidate.SubjectID, "file", candidate.SourceFile, "error", err)
			continue
		}
		if matched {
			return candidate, nil
		}
	}
	return nil, nil
}

// LookupBySubject returns the unexpired keys for subject, sorted by
// expiry.
func (s *Store) LookupBySubject(subject string) []*CachedKey {
	now := s.clock.Now()

	s.mu.RLock()
	result := make([]*CachedKey, 0, len(s.bySubject[subject]))
	for _, cached := range s.bySubject[subject] {
		if !cached.ExpiredAt(now) {
			result = append(result, cached)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiryDateEpochMs < result[j].ExpiryDateEpochMs
	})
	return result
}

// Len returns the number of indexed keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byHash)
}

// SubjectCount returns the number of subjects with at least one key.
func (s *Store) SubjectCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySubject)
}

// Sources returns the sorted source files with at least one key.
func (s *Store) Sources() []string {
	s.mu.RLock()
	sources := make([]string, 0, len(s.bySource))
	for source := range s.bySource {
		sources = append(sources, source)
	}
	s.mu.RUnlock()
	sort.Strings(sources)
	return sources
}

// RunEvictionSweep calls EvictExpired every interval until ctx is
// cancelled.
func (s *Store) RunEvictionSweep(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.EvictExpired(); removed > 0 {
				s.logger.Info("evicted expired data-feed keys", "count", removed)
			}
		}
	}
}
