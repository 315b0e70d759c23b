package ingest

import (
	"context"
	stderrors "errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"balancewatch/internal/config"
	"balancewatch/internal/errors"
	"balancewatch/internal/store"
	"balancewatch/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource 按区块返回余额，记录查询高度
type fakeSource struct {
	mu       sync.Mutex
	balances map[uint64]*big.Int
	latest   *big.Int
	fail     map[uint64]bool
	failAll  bool
	queried  []*big.Int
	accounts []common.Address
}

func (f *fakeSource) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.accounts = append(f.accounts, account)
	if blockNumber == nil {
		f.queried = append(f.queried, nil)
	} else {
		f.queried = append(f.queried, new(big.Int).Set(blockNumber))
	}

	if f.failAll {
		return nil, stderrors.New("connection refused")
	}
	if blockNumber == nil {
		return f.latest, nil
	}
	n := blockNumber.Uint64()
	if f.fail[n] {
		return nil, stderrors.New("missing trie node")
	}
	if b, ok := f.balances[n]; ok {
		return b, nil
	}
	return big.NewInt(int64(n)), nil
}

type fakeProgress struct {
	mu   sync.Mutex
	last uint64
}

func (f *fakeProgress) UpdateProgress(n uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > f.last {
		f.last = n
	}
	return nil
}

type failingPublisher struct{}

func (failingPublisher) PublishSample(*models.BalanceSample) error { return stderrors.New("broker down") }
func (failingPublisher) Close() error                              { return nil }

func testConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Network.RPCURL = "http://localhost:8545"
	return cfg
}

func newTestPipeline(t *testing.T, src *fakeSource, deps Dependencies) (*Pipeline, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	deps.Source = src
	deps.Store = mem

	p, err := NewPipeline(testConfig(), deps, logrus.New())
	require.NoError(t, err)
	p.SetClock(func() time.Time { return time.Unix(1700000000, 0) })
	return p, mem
}

func TestHandleSetup_WritesInitialSample(t *testing.T) {
	src := &fakeSource{latest: big.NewInt(1234)}
	p, mem := newTestPipeline(t, src, Dependencies{})

	require.NoError(t, p.HandleSetup(context.Background()))

	rows, err := mem.Query(context.Background(), store.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.SetupSampleID, rows[0].ID)
	assert.Equal(t, uint64(0), rows[0].BlockNumber)
	assert.Equal(t, uint64(1700000000), rows[0].Timestamp)
	assert.Equal(t, "1234", rows[0].Balance.String())

	require.Len(t, src.queried, 1)
	assert.Nil(t, src.queried[0])
	assert.Equal(t, common.HexToAddress("0x2f7397fd2d49e5b636ef44503771b17eded67620"), src.accounts[0])
}

func TestHandleSetup_RepeatedStartReplacesRow(t *testing.T) {
	src := &fakeSource{latest: big.NewInt(1)}
	p, mem := newTestPipeline(t, src, Dependencies{})

	require.NoError(t, p.HandleSetup(context.Background()))
	src.latest = big.NewInt(2)
	require.NoError(t, p.HandleSetup(context.Background()))

	count, err := mem.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestHandleSetup_SourceFailureIsFatal(t *testing.T) {
	src := &fakeSource{failAll: true}
	p, mem := newTestPipeline(t, src, Dependencies{})

	err := p.HandleSetup(context.Background())
	require.Error(t, err)

	werr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeStartup, werr.Type)
	assert.True(t, werr.IsFatal())
	assert.Contains(t, err.Error(), "connection refused")

	count, _ := mem.Count(context.Background())
	assert.Zero(t, count)
}

func TestHandleBlock_QueriesAtBlockHeight(t *testing.T) {
	src := &fakeSource{balances: map[uint64]*big.Int{20137913: big.NewInt(999)}}
	progress := &fakeProgress{}
	p, mem := newTestPipeline(t, src, Dependencies{Progress: progress})

	block := models.BlockHeader{Number: 20137913, Timestamp: 1700000100}
	require.NoError(t, p.HandleBlock(context.Background(), block))

	require.Len(t, src.queried, 1)
	assert.Equal(t, "20137913", src.queried[0].String())

	rows, err := mem.Query(context.Background(), store.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "20137913-1700000100", rows[0].ID)
	assert.Equal(t, uint64(1700000100), rows[0].Timestamp)
	assert.Equal(t, uint64(20137913), rows[0].BlockNumber)
	assert.Equal(t, "999", rows[0].Balance.String())
	assert.Equal(t, uint64(20137913), progress.last)
}

func TestHandleBlock_RedeliveryIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	p, mem := newTestPipeline(t, src, Dependencies{})

	block := models.BlockHeader{Number: 10, Timestamp: 1000}
	require.NoError(t, p.HandleBlock(context.Background(), block))
	require.NoError(t, p.HandleBlock(context.Background(), block))

	count, err := mem.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestHandleBlock_FailureWritesNothing(t *testing.T) {
	src := &fakeSource{fail: map[uint64]bool{11: true}}
	progress := &fakeProgress{}
	p, mem := newTestPipeline(t, src, Dependencies{Progress: progress})

	err := p.HandleBlock(context.Background(), models.BlockHeader{Number: 11, Timestamp: 1100})
	require.Error(t, err)
	werr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeIngestion, werr.Type)
	assert.False(t, werr.IsFatal())
	require.NotNil(t, werr.BlockNumber)
	assert.Equal(t, uint64(11), *werr.BlockNumber)

	// 后续区块不受影响
	require.NoError(t, p.HandleBlock(context.Background(), models.BlockHeader{Number: 12, Timestamp: 1200}))

	rows, err := mem.Query(context.Background(), store.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "12-1200", rows[0].ID)
	assert.Equal(t, uint64(12), progress.last)

	stats := p.GetStats()
	assert.Equal(t, uint64(1), stats["processed_blocks"])
	assert.Equal(t, uint64(1), stats["failed_blocks"])
	assert.Equal(t, 1, p.Errors().GetStats().ErrorsByType["Ingestion"])
}

func TestHandleBlock_PublishFailureIsNotFatal(t *testing.T) {
	src := &fakeSource{}
	p, mem := newTestPipeline(t, src, Dependencies{Publisher: failingPublisher{}})

	require.NoError(t, p.HandleBlock(context.Background(), models.BlockHeader{Number: 1, Timestamp: 1}))

	count, _ := mem.Count(context.Background())
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, p.Errors().GetStats().ErrorsByType["Publish"])
}

func TestRun_ConcurrentWorkers(t *testing.T) {
	src := &fakeSource{fail: map[uint64]bool{7: true}}
	progress := &fakeProgress{}
	mem := store.NewMemoryStore()

	cfg := testConfig()
	cfg.Stream.Workers = 4
	p, err := NewPipeline(cfg, Dependencies{Source: src, Store: mem, Progress: progress}, logrus.New())
	require.NoError(t, err)

	blocks := make(chan models.BlockHeader)
	go func() {
		defer close(blocks)
		for n := uint64(1); n <= 20; n++ {
			blocks <- models.BlockHeader{Number: n, Timestamp: 1000 + n}
		}
	}()

	require.NoError(t, p.Run(context.Background(), blocks))

	count, err := mem.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(19), count)
	assert.Equal(t, uint64(20), progress.last)
}

func TestRun_StopsOnCancel(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeSource{}, Dependencies{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, make(chan models.BlockHeader))
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	_, err := NewPipeline(testConfig(), Dependencies{Store: store.NewMemoryStore()}, logrus.New())
	assert.Error(t, err)

	_, err = NewPipeline(testConfig(), Dependencies{Source: &fakeSource{}}, logrus.New())
	assert.Error(t, err)
}
