package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocallabs/llm-batch/internal/workpool"
)

type fakeRecord struct {
	ID      string
	Content string
}

type fakeEntry struct {
	RecordID string
	Key      string
}

// fakeSource serves a fixed record set and remembers which offsets it saw.
type fakeSource struct {
	records  []fakeRecord
	countErr error
	failAt   map[int]error

	mu      sync.Mutex
	offsets []int
}

func (s *fakeSource) Count(ctx context.Context) (int, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return len(s.records), nil
}

func (s *fakeSource) Fetch(ctx context.Context, offset, limit int) ([]fakeRecord, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	s.mu.Unlock()
	if err := s.failAt[offset]; err != nil {
		return nil, err
	}
	end := min(offset+limit, len(s.records))
	return s.records[offset:end], nil
}

func makeRecords(n int, emptyEvery int) []fakeRecord {
	out := make([]fakeRecord, n)
	for i := range out {
		out[i] = fakeRecord{ID: fmt.Sprintf("call-%03d", i), Content: "user: hi"}
		if emptyEvery > 0 && i%emptyEvery == 0 {
			out[i].Content = ""
		}
	}
	return out
}

var testPrompts = []string{"interested", "callback", "complaint"}

func evalAll(ctx context.Context, rec fakeRecord) []workpool.Result[fakeEntry] {
	if rec.Content == "" {
		return []workpool.Result[fakeEntry]{workpool.Skip[fakeEntry](rec.ID, errors.New("no transcript"))}
	}
	out := make([]workpool.Result[fakeEntry], len(testPrompts))
	for i, key := range testPrompts {
		out[i] = workpool.Success(rec.ID, fakeEntry{RecordID: rec.ID, Key: key})
	}
	return out
}

// recordingFlush collects every bulk write.
type recordingFlush struct {
	mu     sync.Mutex
	calls  [][]fakeEntry
	failOn func(entries []fakeEntry) error
}

func (f *recordingFlush) flush(ctx context.Context, entries []fakeEntry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, entries)
	if f.failOn != nil {
		if err := f.failOn(entries); err != nil {
			return 0, err
		}
	}
	return int64(len(entries)), nil
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 0, PageCount(0, 100))
	assert.Equal(t, 1, PageCount(1, 100))
	assert.Equal(t, 4, PageCount(350, 100))
	assert.Equal(t, 3, PageCount(300, 100))
	assert.Equal(t, 0, PageCount(10, 0))
}

func TestAggregate_350CallsFourPageFlushes(t *testing.T) {
	src := &fakeSource{records: makeRecords(350, 0)}
	rf := &recordingFlush{}

	tally, err := Aggregate(context.Background(), PageConfig{PageSize: 100, PageParallelism: 4}, src, evalAll, rf.flush)
	require.NoError(t, err)

	assert.Equal(t, 350, tally.Total)
	assert.Equal(t, 4, tally.Pages)
	assert.Equal(t, 4, tally.Flushes)
	require.Len(t, rf.calls, 4)

	sizes := map[int]int{}
	for _, c := range rf.calls {
		sizes[len(c)]++
	}
	assert.Equal(t, map[int]int{300: 3, 150: 1}, sizes, "last page carries 50 records x 3 prompts")

	assert.Equal(t, 1050, tally.Attempted)
	assert.Equal(t, 1050, tally.Succeeded)
	assert.Equal(t, int64(1050), tally.Written)
	assert.ElementsMatch(t, []int{0, 100, 200, 300}, src.offsets)
}

func TestAggregate_SkipsPerRecord(t *testing.T) {
	// Every 10th record has no content.
	src := &fakeSource{records: makeRecords(100, 10)}
	rf := &recordingFlush{}

	tally, err := Aggregate(context.Background(), PageConfig{PageSize: 50, PageParallelism: 2}, src, evalAll, rf.flush)
	require.NoError(t, err)

	assert.Equal(t, 10, tally.Skipped)
	assert.Equal(t, 90*3, tally.Attempted)
	assert.Equal(t, 90*3, tally.Succeeded)
	for _, c := range rf.calls {
		for _, e := range c {
			assert.NotEqual(t, "call-000", e.RecordID, "skipped record must not be written")
		}
	}
}

func TestAggregate_EmptyPagesDoNotFlush(t *testing.T) {
	src := &fakeSource{records: makeRecords(20, 1)} // all empty
	rf := &recordingFlush{}

	tally, err := Aggregate(context.Background(), PageConfig{PageSize: 10, PageParallelism: 2}, src, evalAll, rf.flush)
	require.NoError(t, err)

	assert.Empty(t, rf.calls)
	assert.Equal(t, 0, tally.Flushes)
	assert.Equal(t, 20, tally.Skipped)
	assert.Equal(t, 0, tally.Attempted)
}

func TestAggregate_CountFailureIsFatal(t *testing.T) {
	src := &fakeSource{countErr: errors.New("connection refused")}
	var calls atomic.Int32

	_, err := Aggregate(context.Background(), PageConfig{PageSize: 10, PageParallelism: 2}, src,
		func(ctx context.Context, rec fakeRecord) []workpool.Result[fakeEntry] {
			calls.Add(1)
			return nil
		},
		func(ctx context.Context, e []fakeEntry) (int64, error) { return 0, nil },
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count records")
	assert.Equal(t, int32(0), calls.Load())
}

func TestAggregate_PageFailuresIsolated(t *testing.T) {
	src := &fakeSource{
		records: makeRecords(40, 0),
		failAt:  map[int]error{10: errors.New("fetch timeout")},
	}
	rf := &recordingFlush{failOn: func(entries []fakeEntry) error {
		if entries[0].RecordID == "call-020" {
			return errors.New("constraint violation")
		}
		return nil
	}}

	tally, err := Aggregate(context.Background(), PageConfig{PageSize: 10, PageParallelism: 4}, src, evalAll, rf.flush)
	require.NoError(t, err)

	assert.Equal(t, 4, tally.Pages)
	assert.Equal(t, 2, tally.FailedPages)
	assert.Equal(t, 3, tally.Flushes)
	assert.Equal(t, int64(60), tally.Written)
	assert.Equal(t, 60, tally.Succeeded)
	assert.Equal(t, 30, tally.Failed, "entries of a failed flush are not successes")

	stages := map[string]int{}
	for _, d := range tally.Details {
		stages[d.Stage] = d.Offset
	}
	assert.Equal(t, map[string]int{"fetch": 10, "flush": 20}, stages)
}

func TestAggregate_PanicFailsUnflushedPage(t *testing.T) {
	src := &fakeSource{records: []fakeRecord{
		{ID: "call-1", Content: "user: hi"},
		{ID: "call-2", Content: "user: hi"},
		{ID: "call-3", Content: "user: hi"},
	}}
	rf := &recordingFlush{}
	eval := func(ctx context.Context, rec fakeRecord) []workpool.Result[fakeEntry] {
		if rec.ID == "call-2" {
			panic("nil transcript")
		}
		return evalAll(ctx, rec)
	}

	tally, err := Aggregate(context.Background(), PageConfig{PageSize: 10, PageParallelism: 1}, src, eval, rf.flush)
	require.NoError(t, err)

	assert.Empty(t, rf.calls)
	assert.Equal(t, 0, tally.Flushes)
	assert.Equal(t, int64(0), tally.Written)
	assert.Equal(t, 0, tally.Succeeded, "nothing from the page was written")
	assert.Equal(t, 3, tally.Failed)
	assert.Equal(t, 3, tally.Attempted)
	assert.Equal(t, 1, tally.FailedPages)

	require.Len(t, tally.Details, 1)
	assert.Equal(t, "evaluate", tally.Details[0].Stage)
	assert.Contains(t, tally.Details[0].Error, "nil transcript")
	assert.Contains(t, tally.Details[0].Error, "2 of 3 records not evaluated")

	require.Len(t, tally.Results, 3)
	for _, r := range tally.Results {
		assert.Equal(t, workpool.Failed, r.Outcome)
		assert.Equal(t, "call-1", r.SourceID)
	}
}

func TestAggregate_PanicInFlush(t *testing.T) {
	src := &fakeSource{records: makeRecords(4, 0)}
	flush := func(ctx context.Context, entries []fakeEntry) (int64, error) {
		panic("driver bug")
	}

	tally, err := Aggregate(context.Background(), PageConfig{PageSize: 2, PageParallelism: 2}, src, evalAll, flush)
	require.NoError(t, err)

	assert.Equal(t, 0, tally.Succeeded)
	assert.Equal(t, 12, tally.Failed)
	assert.Equal(t, 2, tally.FailedPages)
	assert.Equal(t, 0, tally.Flushes)
	for _, d := range tally.Details {
		assert.Equal(t, "flush", d.Stage)
		assert.Equal(t, "driver bug", d.Error)
	}
}

func TestAggregate_ResultsInPageOrder(t *testing.T) {
	src := &fakeSource{
		records: makeRecords(40, 0),
		failAt:  map[int]error{10: errors.New("fetch timeout")},
	}
	// Later pages finish first.
	eval := func(ctx context.Context, rec fakeRecord) []workpool.Result[fakeEntry] {
		if rec.ID < "call-010" {
			time.Sleep(5 * time.Millisecond)
		}
		return evalAll(ctx, rec)[:1]
	}
	rf := &recordingFlush{failOn: func(entries []fakeEntry) error {
		if entries[0].RecordID == "call-030" {
			return errors.New("constraint violation")
		}
		return nil
	}}

	for range 3 {
		tally, err := Aggregate(context.Background(), PageConfig{PageSize: 10, PageParallelism: 4}, src, eval, rf.flush)
		require.NoError(t, err)

		require.Len(t, tally.Results, 30)
		for i, r := range tally.Results {
			want := i
			if i >= 10 {
				want = i + 10 // page 1 was never fetched
			}
			assert.Equal(t, fmt.Sprintf("call-%03d", want), r.SourceID)
		}
		assert.Equal(t, workpool.Succeeded, tally.Results[0].Outcome)
		assert.Equal(t, workpool.Failed, tally.Results[29].Outcome)
		assert.Contains(t, tally.Results[29].Reason(), "constraint violation")

		require.Len(t, tally.Details, 2)
		assert.Equal(t, "fetch", tally.Details[0].Stage)
		assert.Equal(t, "flush", tally.Details[1].Stage)
	}
}

func TestAggregate_RejectsBadPageSize(t *testing.T) {
	_, err := Aggregate(context.Background(), PageConfig{}, &fakeSource{}, evalAll, (&recordingFlush{}).flush)
	require.Error(t, err)
}

func TestAggregate_Idempotent(t *testing.T) {
	// Upsert-by-key store: running twice converges to the same state.
	state := map[string]string{}
	var mu sync.Mutex
	flush := func(ctx context.Context, entries []fakeEntry) (int64, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range entries {
			state[e.RecordID+"/"+e.Key] = "TRUE"
		}
		return int64(len(entries)), nil
	}

	src := &fakeSource{records: makeRecords(25, 0)}
	cfg := PageConfig{PageSize: 10, PageParallelism: 3}

	_, err := Aggregate(context.Background(), cfg, src, evalAll, flush)
	require.NoError(t, err)
	first := len(state)

	_, err = Aggregate(context.Background(), cfg, src, evalAll, flush)
	require.NoError(t, err)
	assert.Equal(t, first, len(state))
	assert.Equal(t, 75, len(state))
}

func TestSourceFuncs(t *testing.T) {
	src := SourceFuncs[int]{
		CountFn: func(ctx context.Context) (int, error) { return 3, nil },
		FetchFn: func(ctx context.Context, offset, limit int) ([]int, error) { return []int{offset, limit}, nil },
	}
	n, err := src.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	got, err := src.Fetch(context.Background(), 5, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 10}, got)
}
