// Package profile aggregates the object groups retained by full collections
// into a bounded per-info summary, in the manner of a heap profiler's
// "retained by" view.
package profile

import (
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dankurka/v8/pkg/handles"
)

// DefaultSize is the number of distinct hash buckets kept by New(0).
const DefaultSize = 1024

const anonymousLabel = "(anonymous)"

// Entry summarises every retained group whose info is equivalent to the
// first one seen. Infos are compared with IsEquivalent within a GetHash
// bucket.
type Entry struct {
	Label   string
	Hash    int64
	Groups  int // groups retained
	Members int // handles in those groups

	info handles.RetainedObjectInfo
}

// RetainerProfile implements handles.GroupObserver. Least recently updated
// hash buckets are evicted once more than the configured number exist.
type RetainerProfile struct {
	buckets *lru.Cache[int64, []*Entry]
	evicted int
}

// New returns a profile keeping at most size hash buckets. A size of zero
// selects DefaultSize.
func New(size int) (*RetainerProfile, error) {
	if size == 0 {
		size = DefaultSize
	}
	p := &RetainerProfile{}
	cache, err := lru.NewWithEvict[int64, []*Entry](size, func(_ int64, entries []*Entry) {
		p.evicted += len(entries)
	})
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	p.buckets = cache
	return p, nil
}

// GroupRetained records one retained group. It runs before info is
// disposed; infos already stored may have been disposed since.
func (p *RetainerProfile) GroupRetained(info handles.RetainedObjectInfo, members []handles.Handle) {
	var hash int64
	if info != nil {
		hash = info.GetHash()
	}
	bucket, _ := p.buckets.Get(hash)
	for _, e := range bucket {
		if equivalent(e.info, info) {
			e.Groups++
			e.Members += len(members)
			return
		}
	}
	e := &Entry{Label: anonymousLabel, Hash: hash, Groups: 1, Members: len(members), info: info}
	if info != nil {
		e.Label = info.GetLabel()
	}
	p.buckets.Add(hash, append(bucket, e))
}

func equivalent(stored, info handles.RetainedObjectInfo) bool {
	if stored == nil || info == nil {
		return stored == nil && info == nil
	}
	return stored.IsEquivalent(info)
}

// Entries returns a copy of every entry, most retained members first.
func (p *RetainerProfile) Entries() []Entry {
	var out []Entry
	for _, bucket := range p.buckets.Values() {
		for _, e := range bucket {
			c := *e
			c.info = nil
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Members != out[j].Members {
			return out[i].Members > out[j].Members
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Len returns the number of entries.
func (p *RetainerProfile) Len() int {
	n := 0
	for _, bucket := range p.buckets.Values() {
		n += len(bucket)
	}
	return n
}

// Evicted returns how many entries were dropped to respect the size bound.
func (p *RetainerProfile) Evicted() int {
	return p.evicted
}

// Reset drops every entry. Evictions caused by Reset are not counted.
func (p *RetainerProfile) Reset() {
	evicted := p.evicted
	p.buckets.Purge()
	p.evicted = evicted
}
