// Copyright (c) 2024 Tailscale Inc & AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sqlstats implements a bindh.Tracer that collects query stats.
package sqlstats

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tailscale/sqlbind/bindh"
)

// Tracer implements bindh.Tracer and collects query stats.
//
// To use, set it as sqlbind.Options.Tracer, then start a debug
// web server with http.HandlerFunc(sqlTracer.Handle).
type Tracer struct {
	// Once a query has been seen once, only the read lock
	// is required to update stats.
	mu      sync.RWMutex
	queries map[string]*queryStats // normalized query -> stats
}

type queryStats struct {
	// All fields must be accessed as atomics.
	count     atomic.Int64
	errors    atomic.Int64
	duration  atomic.Int64 // time.Duration
	rows      atomic.Int64
	refetches atomic.Int64
}

// QueryStats is a snapshot of the stats of one normalized query.
type QueryStats struct {
	Query     string
	Count     int64         // executions
	Errors    int64         // failed prepares, executions and fetches
	Duration  time.Duration // total execution time
	Mean      time.Duration // Duration / Count
	Rows      int64         // rows fetched
	Refetches int64         // columns fetched a second time after growing their buffer
}

var inList = regexp.MustCompile(`(?i)\bIN\s*\(\s*[-+0-9.'"?][^()]*\)`)

// normalizeQuery collapses literal IN lists, so that queries differing
// only in the length of such a list share stats.
func normalizeQuery(q string) string {
	if !strings.Contains(strings.ToUpper(q), "IN") {
		return q
	}
	return inList.ReplaceAllString(q, "IN (...)")
}

func (t *Tracer) queryStats(query string) *queryStats {
	query = normalizeQuery(query)

	t.mu.RLock()
	stats := t.queries[query]
	t.mu.RUnlock()

	if stats != nil {
		return stats
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queries == nil {
		t.queries = make(map[string]*queryStats)
	}
	stats = t.queries[query]
	if stats == nil {
		stats = &queryStats{}
		t.queries[query] = stats
	}
	return stats
}

// Collect returns a snapshot of the stats of every query seen since
// the last Reset, in no particular order.
func (t *Tracer) Collect() (rows []*QueryStats) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for query, s := range t.queries {
		row := &QueryStats{
			Query:     query,
			Count:     s.count.Load(),
			Errors:    s.errors.Load(),
			Duration:  time.Duration(s.duration.Load()),
			Rows:      s.rows.Load(),
			Refetches: s.refetches.Load(),
		}
		if row.Count > 0 {
			row.Mean = row.Duration / time.Duration(row.Count)
		}
		rows = append(rows, row)
	}
	return rows
}

// Reset discards all collected stats.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries = nil
}

func (t *Tracer) Query(prepCtx context.Context, id bindh.TraceConnID, query string, duration time.Duration, err error) {
	stats := t.queryStats(query)

	stats.count.Add(1)
	stats.duration.Add(int64(duration))
	if err != nil {
		stats.errors.Add(1)
	}
}

func (t *Tracer) Fetch(prepCtx context.Context, id bindh.TraceConnID, query string, refetched int, err error) {
	stats := t.queryStats(query)

	if err != nil {
		stats.errors.Add(1)
		return
	}
	stats.rows.Add(1)
	stats.refetches.Add(int64(refetched))
}

func (t *Tracer) Handle(w http.ResponseWriter, r *http.Request) {
	getArgs, _ := url.ParseQuery(r.URL.RawQuery)
	sortParam := strings.TrimSpace(getArgs.Get("sort"))
	rows := t.Collect()

	switch sortParam {
	case "", "count":
		sort.Slice(rows, func(i, j int) bool { return rows[i].Count > rows[j].Count })
	case "query":
		sort.Slice(rows, func(i, j int) bool { return rows[i].Query < rows[j].Query })
	case "duration":
		sort.Slice(rows, func(i, j int) bool { return rows[i].Duration > rows[j].Duration })
	case "errors":
		sort.Slice(rows, func(i, j int) bool { return rows[i].Errors > rows[j].Errors })
	case "mean":
		sort.Slice(rows, func(i, j int) bool { return rows[i].Mean > rows[j].Mean })
	case "rows":
		sort.Slice(rows, func(i, j int) bool { return rows[i].Rows > rows[j].Rows })
	case "refetches":
		sort.Slice(rows, func(i, j int) bool { return rows[i].Refetches > rows[j].Refetches })
	default:
		http.Error(w, fmt.Sprintf("unknown sort: %q", sortParam), 400)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(200)
	fmt.Fprintf(w, `<!DOCTYPE html><html><body>
	<p>Trace of prepared statements run via the github.com/tailscale/sqlbind package.</p>
	<table border="1">
	<tr>
	<th><a href="?sort=query">Query</a></th>
	<th><a href="?sort=count">Count</a></th>
	<th><a href="?sort=duration">Duration</a></th>
	<th><a href="?sort=mean">Mean</a></th>
	<th><a href="?sort=errors">Errors</a></th>
	<th><a href="?sort=rows">Rows</a></th>
	<th><a href="?sort=refetches">Refetches</a></th>
	</tr>
	`)
	for _, row := range rows {
		fmt.Fprintf(w, "<tr><td>%s</td><td>%d</td><td>%s</td><td>%s</td><td>%d</td><td>%d</td><td>%d</td></tr>\n",
			html.EscapeString(row.Query),
			row.Count,
			row.Duration.Round(time.Second),
			row.Mean.Round(time.Millisecond),
			row.Errors,
			row.Rows,
			row.Refetches,
		)
	}
	fmt.Fprintf(w, "</table></body></html>")
}
