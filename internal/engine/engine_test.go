package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memory-mcp/internal/codec"
	"github.com/rcliao/memory-mcp/internal/consolidate"
	"github.com/rcliao/memory-mcp/internal/index"
	"github.com/rcliao/memory-mcp/internal/keyword"
	"github.com/rcliao/memory-mcp/internal/memerr"
	"github.com/rcliao/memory-mcp/internal/model"
	"github.com/rcliao/memory-mcp/internal/oracle"
	"github.com/rcliao/memory-mcp/internal/retrieval"
)

func testOptions(root string) Options {
	return Options{
		Root:           root,
		DirName:        ".memories",
		MaxRecordBytes: 8192,
		Keywords:       keyword.DefaultOptions(),
		IndexMode:      index.ModeUnion,
		Scorer:         "jaccard",
		Retrieval:      retrieval.Options{DefaultLimit: 5, MaxLimit: 50, MinScore: 0.1},
		Consolidation:  consolidate.Options{MergeThreshold: 0.3, OracleFallback: consolidate.FallbackCreate},
	}
}

func newTestEngine(t *testing.T, o oracle.Oracle) *Engine {
	t.Helper()
	return openEngine(t, testOptions(t.TempDir()), o)
}

func openEngine(t *testing.T, opts Options, o oracle.Oracle) *Engine {
	t.Helper()
	if o == nil {
		o = oracle.NewHeuristic(keyword.New(opts.Keywords))
	}
	e, err := Open(context.Background(), opts, o, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func mergeOracle() oracle.Oracle {
	return oracle.Func(func(context.Context, oracle.Candidate, *model.Record) (*oracle.Judgement, error) {
		return &oracle.Judgement{Verdict: model.VerdictMerge}, nil
	})
}

func TestScenarios(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, mergeOracle())

	// A: empty store, memorize creates.
	a, err := e.Memorize(ctx, "DB schema", "Users table has columns id, name, email")
	require.NoError(t, err)
	require.Equal(t, model.ActionCreated, a.Action)
	r1 := a.ID
	require.NoError(t, e.Verify(ctx))

	// B: recall finds r1 above the floor.
	hits, err := e.Recall(ctx, "users table columns", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, r1, hits[0].Record.ID)
	assert.Greater(t, hits[0].Score, 0.1)

	// C: merge keeps the id and both facts.
	c, err := e.Memorize(ctx, "DB schema update", "Users table also has a created_at column")
	require.NoError(t, err)
	assert.Equal(t, model.ActionUpdated, c.Action)
	assert.Equal(t, r1, c.ID)
	rec, err := e.Get(ctx, r1)
	require.NoError(t, err)
	assert.Contains(t, rec.Body, "id, name, email")
	assert.Contains(t, rec.Body, "created_at column")
	require.NoError(t, e.Verify(ctx))

	// D: oversize content is declined and nothing changes.
	before, _ := e.List(ctx)
	d, err := e.Memorize(ctx, "x", strings.Repeat("big ", 3000))
	require.NoError(t, err)
	assert.Equal(t, model.ActionDeclined, d.Action)
	assert.Equal(t, "size limit exceeded", d.Declined)
	after, _ := e.List(ctx)
	assert.Equal(t, before, after)

	// E: unrelated query is an empty success.
	hits, err = e.Recall(ctx, "unrelated quantum physics topic", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

const paymentsNote = "Payments deploy through the blue green pipeline in the us-east-1 and eu-west-2 clusters every weekday morning. " +
	"Rollback uses the previous task definition and must finish within five minutes of a failed health check. " +
	"Secrets come from vault under the payments namespace and rotate automatically each quarter. " +
	"Database migrations run before traffic shifts, guarded by a feature flag owned by the ledger team. " +
	"Alerts page the on-call engineer through pagerduty, and dashboards live in grafana next to the checkout latency panels."

func TestRecallLongNote(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	res, err := e.Memorize(ctx, "Payments deployment", paymentsNote)
	require.NoError(t, err)
	e.Memorize(ctx, "Vault", "Vault tokens expire hourly")
	rec, err := e.Get(ctx, res.ID)
	require.NoError(t, err)
	require.Greater(t, len(rec.Keywords), 50)

	for _, q := range []string{"payments deployment", "how do payments deploy rollback", "vault secrets payments"} {
		hits, err := e.Recall(ctx, q, 0)
		require.NoError(t, err)
		ids := make([]string, 0, len(hits))
		for _, h := range hits {
			ids = append(ids, h.Record.ID)
		}
		assert.Contains(t, ids, res.ID, q)
	}
}

func TestRestatedSentenceIsJudged(t *testing.T) {
	ctx := context.Background()
	var calls int
	dup := oracle.Func(func(context.Context, oracle.Candidate, *model.Record) (*oracle.Judgement, error) {
		calls++
		return &oracle.Judgement{Verdict: model.VerdictDuplicate}, nil
	})
	e := newTestEngine(t, dup)

	first, err := e.Memorize(ctx, "Payments deployment", paymentsNote)
	require.NoError(t, err)
	require.Zero(t, calls)

	res, err := e.Memorize(ctx, "Payments rollback",
		"Rollback uses the previous task definition and must finish within five minutes of a failed health check.")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, model.ActionDeclined, res.Action)
	assert.Equal(t, "duplicate of "+first.ID, res.Declined)

	all, err := e.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestNegationIsNotDuplicate(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	first, err := e.Memorize(ctx, "Users table", "Users table has no email column")
	require.NoError(t, err)

	res, err := e.Memorize(ctx, "Users table", "Users table has an email column")
	require.NoError(t, err)
	assert.NotEqual(t, model.ActionDeclined, res.Action, res.Declined)

	rec, err := e.Get(ctx, first.ID)
	require.NoError(t, err)
	if res.ID == first.ID {
		assert.Contains(t, rec.Body, "has an email column")
	}
	assert.Contains(t, rec.Keywords, "no")

	hits, err := e.Recall(ctx, "no email column", 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, first.ID, hits[0].Record.ID)
}

func TestConcurrentMemorizeSuppressesDuplicates(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	const n = 16
	var wg sync.WaitGroup
	results := make([]*consolidate.Result, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = e.Memorize(ctx, "Deploy", "Deploys run from the main branch every Friday")
		}()
	}
	wg.Wait()

	created := 0
	for i := range n {
		require.NoError(t, errs[i])
		switch results[i].Action {
		case model.ActionCreated:
			created++
		case model.ActionDeclined:
			assert.True(t, strings.HasPrefix(results[i].Declined, "duplicate of "), results[i].Declined)
		default:
			t.Errorf("unexpected action %s", results[i].Action)
		}
	}
	assert.Equal(t, 1, created)

	recs, _ := e.List(ctx)
	assert.Len(t, recs, 1)
	require.NoError(t, e.Verify(ctx))
}

func TestOracleHeldInsideCriticalSection(t *testing.T) {
	ctx := context.Background()
	var inFlight, maxInFlight int
	var mu sync.Mutex
	slow := oracle.Func(func(context.Context, oracle.Candidate, *model.Record) (*oracle.Judgement, error) {
		mu.Lock()
		inFlight++
		maxInFlight = max(maxInFlight, inFlight)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return &oracle.Judgement{Verdict: model.VerdictDistinct}, nil
	})
	e := newTestEngine(t, slow)
	_, err := e.Memorize(ctx, "cache", "Redis caches sessions")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Memorize(ctx, "cache", fmt.Sprintf("Redis caches sessions variant%d", i))
			e.Recall(ctx, "redis", 5)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInFlight)
}

func TestAcquireHonoursDeadline(t *testing.T) {
	block := make(chan struct{})
	entered := make(chan struct{})
	o := oracle.Func(func(ctx context.Context, _ oracle.Candidate, _ *model.Record) (*oracle.Judgement, error) {
		close(entered)
		<-block
		return &oracle.Judgement{Verdict: model.VerdictDistinct}, nil
	})
	e := newTestEngine(t, o)
	ctx := context.Background()
	e.Memorize(ctx, "cache", "Redis caches sessions")

	go e.Memorize(ctx, "cache", "Redis caches sessions too")
	<-entered

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := e.Recall(tctx, "redis", 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, memerr.Operational, memerr.Classify("recall", err).Kind)
	close(block)
}

func TestDeleteAndConsistency(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	a, _ := e.Memorize(ctx, "DB schema", "Users table has columns id, name, email")
	b, _ := e.Memorize(ctx, "Deploy", "Deploys run from the main branch")
	require.NoError(t, e.Verify(ctx))

	require.NoError(t, e.Delete(ctx, a.ID))
	require.NoError(t, e.Verify(ctx))
	hits, _ := e.Recall(ctx, "users table", 5)
	assert.Empty(t, hits)

	err := e.Delete(ctx, a.ID)
	assert.Equal(t, memerr.NotFound, memerr.KindOf(err))

	_, err = e.Get(ctx, b.ID)
	assert.NoError(t, err)
}

func TestReopenRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t.TempDir())

	e1, err := Open(ctx, opts, oracle.NewHeuristic(keyword.New(opts.Keywords)), nil, nil)
	require.NoError(t, err)
	a, _ := e1.Memorize(ctx, "DB schema", "Users table has columns id, name, email")
	require.NoError(t, e1.Close(ctx))

	_, err = e1.Recall(ctx, "users", 5)
	assert.ErrorIs(t, err, ErrClosed)

	e2 := openEngine(t, opts, nil)
	hits, err := e2.Recall(ctx, "users table", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a.ID, hits[0].Record.ID)
	require.NoError(t, e2.Verify(ctx))
}

func TestReloadPicksUpExternalEdits(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	a, _ := e.Memorize(ctx, "DB schema", "Users table has columns id, name, email")

	// Hand edit: body changes, keywords left stale.
	path := filepath.Join(e.Dir(), a.ID+codec.Extension)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	edited := strings.Replace(string(raw), "Users table has columns id, name, email", "Orders table has columns sku, qty", 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(e.Dir(), "junk.md"), []byte("garbage"), 0o644))

	res, err := e.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Repaired)
	assert.Len(t, res.Warnings, 1)
	require.NoError(t, e.Verify(ctx))

	hits, _ := e.Recall(ctx, "orders sku", 5)
	require.Len(t, hits, 1)
	assert.Equal(t, a.ID, hits[0].Record.ID)

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Store.Records)
	assert.Equal(t, 1, st.Index.Records)
	assert.Len(t, st.Warnings, 1)
}

func TestWatchReloadsOnExternalWrite(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t.TempDir())
	opts.Watch = true
	opts.WatchDebounce = 20 * time.Millisecond
	e := openEngine(t, opts, nil)

	rec := &model.Record{
		ID:        "01HEXTERNAL000000000000000",
		Title:     "external",
		Body:      "Written by another editor about kubernetes ingress",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	b, err := codec.Encode(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(e.Dir(), rec.ID+codec.Extension), b, 0o644))

	require.Eventually(t, func() bool {
		hits, err := e.Recall(ctx, "kubernetes ingress", 5)
		return err == nil && len(hits) == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestEngine(t, nil)
	dst := newTestEngine(t, nil)

	src.Memorize(ctx, "DB schema", "Users table has columns id, name, email")
	src.Memorize(ctx, "Deploy", "Deploys run from the main branch")

	recs, err := src.Export(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	imported, skipped, err := dst.Import(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)
	assert.Zero(t, skipped)

	imported, skipped, _ = dst.Import(ctx, recs)
	assert.Zero(t, imported)
	assert.Equal(t, 2, skipped)

	require.NoError(t, dst.Verify(ctx))
	hits, _ := dst.Recall(ctx, "deploys main branch", 5)
	require.NotEmpty(t, hits)
}

func TestImportSkipsEmptyEntries(t *testing.T) {
	ctx := context.Background()
	src := newTestEngine(t, nil)
	dst := newTestEngine(t, nil)

	src.Memorize(ctx, "Deploy", "Deploys run from the main branch")
	recs, err := src.Export(ctx)
	require.NoError(t, err)

	imported, skipped, err := dst.Import(ctx, []*model.Record{nil, recs[0], nil})
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 2, skipped)
	require.NoError(t, dst.Verify(ctx))
}

func TestStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	require.NoError(t, os.RemoveAll(e.Dir()))

	_, err := e.Memorize(ctx, "note", "Something worth remembering")
	require.Error(t, err)
	assert.True(t, errors.Is(err, memerr.ErrStoreUnavailable), "got %v", err)
}
