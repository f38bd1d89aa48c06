package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/cache"
	"bankledger/internal/infrastructure/database"
	"bankledger/internal/infrastructure/event"
	"bankledger/internal/infrastructure/lock"
	"bankledger/internal/model"
	"bankledger/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testEnv struct {
	db       *gorm.DB
	cfg      *config.Config
	bus      *event.Bus
	commands *CommandService
	queries  *QueryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	cfg := &config.Config{
		Business: config.BusinessConfig{
			ConflictMaxRetry:   3,
			OutboxMaxRetry:     5,
			SnapshotTTLSeconds: 60,
			HistoryPageSize:    50,
			LockMode:           config.LockModeLocal,
		},
	}

	bus := event.NewBus(zap.NewNop())
	queries := NewQueryService(db, cfg, cache.NewMemoryStore())
	commands := NewCommandService(db, cfg, lock.NewKeyLock(), bus)
	RegisterSubscribers(bus, queries)

	t.Cleanup(bus.Wait)

	return &testEnv{db: db, cfg: cfg, bus: bus, commands: commands, queries: queries}
}

func (e *testEnv) ledgerCount(t *testing.T, userID string) int64 {
	t.Helper()
	count, err := repository.NewTransactionRepository(e.db).CountByUser(context.Background(), userID)
	require.NoError(t, err)
	return count
}

func TestHandleDeposit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.commands.HandleDeposit(ctx, &DepositCommand{
		UserID:        "u1",
		Amount:        model.MustAmount("100.50"),
		Description:   "工资",
		CorrelationID: "corr-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "100.50", result.EffectiveBalance.String())
	assert.False(t, result.InterestApplied)
	assert.Equal(t, "corr-1", result.CorrelationID)
	assert.Equal(t, 1, result.Version)
	assert.NotEmpty(t, result.TransactionNo)

	// 恰好一条流水 + 一条发件箱事件
	assert.EqualValues(t, 1, env.ledgerCount(t, "u1"))

	var outbox []*model.OutboxMessage
	require.NoError(t, env.db.Find(&outbox).Error)
	require.Len(t, outbox, 1)
	assert.Equal(t, model.EventTypeDepositProcessed, outbox[0].EventType)
	assert.Equal(t, model.OutboxStatusPending, outbox[0].Status)
	assert.Equal(t, "u1", outbox[0].MessageKey)
}

func TestPayBillIntoOverdraftEndToEnd(t *testing.T) {
	// 余额 0 支付 100：可用 0，透支 100，首次转负，流水 balance_after = -100
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.commands.HandlePayBill(ctx, &PayBillCommand{
		UserID:      "u1",
		Amount:      model.MustAmount("100"),
		Description: "电费",
	})
	require.NoError(t, err)

	assert.Equal(t, "-100.00", result.EffectiveBalance.String())
	assert.True(t, result.WentNegative)
	assert.NotEmpty(t, result.CorrelationID, "缺省 correlation_id 自动生成")

	records, _, err := repository.NewTransactionRepository(env.db).ListByUser(ctx, "u1", 1, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.TransactionTypePayment, records[0].Type)
	assert.Equal(t, "100.00", records[0].Amount.String())
	assert.Equal(t, "-100.00", records[0].BalanceAfter.String())
}

func TestDepositAfterOverdraftAppliesPenalty(t *testing.T) {
	// 透支 100 后入账 200：罚息后欠款 102.00，余额 98.00
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.commands.HandlePayBill(ctx, &PayBillCommand{
		UserID: "u1", Amount: model.MustAmount("100"), Description: "电费",
	})
	require.NoError(t, err)

	result, err := env.commands.HandleDeposit(ctx, &DepositCommand{
		UserID: "u1", Amount: model.MustAmount("200"),
	})
	require.NoError(t, err)

	assert.Equal(t, "98.00", result.EffectiveBalance.String())
	assert.True(t, result.InterestApplied)
}

func TestWentNegativeFlagsFirstTransitionOnly(t *testing.T) {
	// 支付 50 再支付 30：第一次转负，第二次不转，最终透支 80
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.commands.HandlePayBill(ctx, &PayBillCommand{
		UserID: "u1", Amount: model.MustAmount("50"), Description: "水费",
	})
	require.NoError(t, err)
	second, err := env.commands.HandlePayBill(ctx, &PayBillCommand{
		UserID: "u1", Amount: model.MustAmount("30"), Description: "燃气费",
	})
	require.NoError(t, err)

	assert.True(t, first.WentNegative)
	assert.False(t, second.WentNegative)
	assert.Equal(t, "-80.00", second.EffectiveBalance.String())
}

func TestValidationFailsFastWithoutTouchingState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		run   func() error
		field string
	}{
		{
			name: "入账用户为空",
			run: func() error {
				_, err := env.commands.HandleDeposit(ctx, &DepositCommand{Amount: model.MustAmount("10")})
				return err
			},
			field: "user_id",
		},
		{
			name: "入账金额为零",
			run: func() error {
				_, err := env.commands.HandleDeposit(ctx, &DepositCommand{UserID: "u1", Amount: model.ZeroAmount()})
				return err
			},
			field: "amount",
		},
		{
			name: "支付缺少摘要",
			run: func() error {
				_, err := env.commands.HandlePayBill(ctx, &PayBillCommand{UserID: "u1", Amount: model.MustAmount("10")})
				return err
			},
			field: "description",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.Error(t, err)
			ve, ok := AsValidation(err)
			require.True(t, ok, "应为校验错误: %v", err)
			assert.Equal(t, tc.field, ve.Field)
		})
	}

	// 校验失败不碰任何状态
	assert.EqualValues(t, 0, env.ledgerCount(t, "u1"))
	var balances []*model.Balance
	require.NoError(t, env.db.Find(&balances).Error)
	assert.Empty(t, balances, "校验失败不应创建账户")
}

func TestLedgerGrowsByExactlyOnePerCommand(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := env.commands.HandleDeposit(ctx, &DepositCommand{
			UserID: "u1", Amount: model.MustAmount("10"),
		})
		require.NoError(t, err)
		assert.EqualValues(t, i, env.ledgerCount(t, "u1"))
	}
}

func TestConcurrentDepositsLoseNoUpdates(t *testing.T) {
	// N 个并发入账各 10.00，最终余额必须恰好 N*10.00
	env := newTestEnv(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.commands.HandleDeposit(ctx, &DepositCommand{
				UserID: "u1", Amount: model.MustAmount("10.00"),
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	balance, err := repository.NewBalanceRepository(env.db).Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", balance.Available.String())
	assert.Equal(t, n, balance.Version)
	assert.EqualValues(t, n, env.ledgerCount(t, "u1"))
}

func TestConcurrentPayBillsAgainstSameBalance(t *testing.T) {
	// 可用 150，两个并发支付 100：恰好一笔"余额充足"，
	// 最终可用 50 透支 50，exactly one wentNegative
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.commands.HandleDeposit(ctx, &DepositCommand{
		UserID: "u1", Amount: model.MustAmount("150"),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*CommandResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.commands.HandlePayBill(ctx, &PayBillCommand{
				UserID: "u1", Amount: model.MustAmount("100"), Description: "账单",
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	balance, err := repository.NewBalanceRepository(env.db).Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, balance.Available.IsZero())
	assert.Equal(t, "50.00", balance.Overdraft.String())
	assert.Equal(t, "-50.00", balance.Effective().String())

	negatives := 0
	for _, r := range results {
		if r.WentNegative {
			negatives++
		}
	}
	assert.Equal(t, 1, negatives, "两笔并发支付只有一笔触发首次转负")
}

func TestCrossUserCommandsDoNotInterfere(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, user := range []string{"alice", "bob", "carol"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				_, err := env.commands.HandleDeposit(ctx, &DepositCommand{
					UserID: user, Amount: model.MustAmount("7.77"),
				})
				assert.NoError(t, err)
			}
		}(user)
	}
	wg.Wait()

	for _, user := range []string{"alice", "bob", "carol"} {
		balance, err := repository.NewBalanceRepository(env.db).Load(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, "23.31", balance.Available.String(), user)
	}
}

// competingWriter 在命令第一次（或每次）CAS 保存前，
// 用同事务内的带外 UPDATE 模拟一个抢先提交的竞争写者，
// 让 WHERE version = ? 落空；事务回滚时带外更新一并回滚
func competingWriter(t *testing.T, env *testEnv, userID string, every bool) *int {
	t.Helper()
	casAttempts := new(int)
	fired := false
	err := env.db.Callback().Update().Before("gorm:update").Register("competing_writer", func(tx *gorm.DB) {
		if tx.Statement.Table != "balance" {
			return
		}
		*casAttempts++
		if fired && !every {
			return
		}
		fired = true
		tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE balance SET version = version + 1 WHERE user_id = ?", userID)
	})
	require.NoError(t, err)
	return casAttempts
}

func TestVersionConflictRetriesFromFreshRead(t *testing.T) {
	// 乐观锁是第二道防线：CAS 落空的那次尝试整体回滚，
	// 下一次尝试从最新读重做，对调用方完全透明
	env := newTestEnv(t)
	ctx := context.Background()
	casAttempts := competingWriter(t, env, "u1", false)

	result, err := env.commands.HandleDeposit(ctx, &DepositCommand{
		UserID: "u1", Amount: model.MustAmount("100"),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, *casAttempts, "第一次保存冲突，重试一次后成功")
	assert.Equal(t, "100.00", result.EffectiveBalance.String())
	assert.Equal(t, 1, result.Version)
	assert.EqualValues(t, 1, env.ledgerCount(t, "u1"), "冲突的那次尝试不留流水")
}

func TestRetryExhaustionReturnsTryAgain(t *testing.T) {
	// 每次保存都被竞争写者抢先：重试耗尽后返回 ErrTryAgain，
	// 所有尝试全部回滚，账户状态和流水纹丝不动
	env := newTestEnv(t)
	ctx := context.Background()
	casAttempts := competingWriter(t, env, "u1", true)

	_, err := env.commands.HandleDeposit(ctx, &DepositCommand{
		UserID: "u1", Amount: model.MustAmount("100"),
	})
	require.ErrorIs(t, err, ErrTryAgain)

	assert.Equal(t, env.cfg.Business.ConflictMaxRetry, *casAttempts)
	assert.EqualValues(t, 0, env.ledgerCount(t, "u1"))

	balance, loadErr := repository.NewBalanceRepository(env.db).Load(ctx, "u1")
	require.NoError(t, loadErr)
	assert.Equal(t, 0, balance.Version)
	assert.True(t, balance.Available.IsZero())

	var outbox []*model.OutboxMessage
	require.NoError(t, env.db.Find(&outbox).Error)
	assert.Empty(t, outbox)
}
