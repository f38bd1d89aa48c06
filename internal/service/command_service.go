package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/event"
	"bankledger/internal/infrastructure/lock"
	"bankledger/internal/infrastructure/logger"
	"bankledger/internal/infrastructure/mq"
	"bankledger/internal/model"
	"bankledger/internal/repository"
	"bankledger/pkg/idgen"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============================================================================
// 命令管线
// ============================================================================
//
// 每个命令的生命周期：校验 -> 加锁 -> 变更 -> 落库 -> 发事件
//
// 【关键点】原子性边界：
// 余额变更、流水追加、事件落库（发件箱）在同一个数据库事务内提交，
// 任何一步失败整体回滚，外部永远看不到"改了余额但没有流水"的中间态。
// 进程内总线的 Publish 在事务提交之后执行。
//
// 【关键点】并发控制是两道防线：
// 1. 每用户互斥锁：同一用户的命令串行执行（锁覆盖到事件落库提交）
// 2. 余额表乐观锁版本号：保存时 compare-and-set，
//    冲突则从最新读重试有限次，重试耗尽返回 ErrTryAgain
//
// 幂等性不在此层保证：每个被接受的命令恰好产生一条流水和一个事件，
// 重试同一逻辑意图的去重由调用方按自己的 correlation_id 负责。
// ============================================================================

type CommandService struct {
	db              *gorm.DB
	cfg             *config.Config
	balanceRepo     *repository.BalanceRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	locker          lock.UserLocker
	bus             *event.Bus
}

func NewCommandService(db *gorm.DB, cfg *config.Config, locker lock.UserLocker, bus *event.Bus) *CommandService {
	return &CommandService{
		db:              db,
		cfg:             cfg,
		balanceRepo:     repository.NewBalanceRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		locker:          locker,
		bus:             bus,
	}
}

// DepositCommand 入账命令
type DepositCommand struct {
	UserID        string
	Amount        model.Amount
	Description   string
	CorrelationID string // 调用方追踪ID，缺省时生成 uuid
}

// PayBillCommand 账单支付命令
type PayBillCommand struct {
	UserID        string
	Amount        model.Amount
	Description   string // 账单摘要，支付命令必填
	CorrelationID string
}

// CommandResult 命令执行结果
type CommandResult struct {
	TransactionNo    string       `json:"transaction_no"`
	UserID           string       `json:"user_id"`
	EffectiveBalance model.Amount `json:"effective_balance"`
	InterestApplied  bool         `json:"interest_applied"` // 仅入账有意义
	WentNegative     bool         `json:"went_negative"`    // 仅支付有意义
	CorrelationID    string       `json:"correlation_id"`
	Version          int          `json:"version"`
}

// ============================================================
// 入参校验：每类命令一个普通函数，锁获取之前快速失败
// ============================================================

func validateCommon(userID string, amount model.Amount) *ValidationError {
	if userID == "" {
		return &ValidationError{Field: "user_id", Reason: "不能为空"}
	}
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "必须大于0"}
	}
	return nil
}

func validateDeposit(cmd *DepositCommand) *ValidationError {
	return validateCommon(cmd.UserID, cmd.Amount)
}

func validatePayBill(cmd *PayBillCommand) *ValidationError {
	if ve := validateCommon(cmd.UserID, cmd.Amount); ve != nil {
		return ve
	}
	if cmd.Description == "" {
		return &ValidationError{Field: "description", Reason: "不能为空"}
	}
	return nil
}

// HandleDeposit 处理入账命令
func (s *CommandService) HandleDeposit(ctx context.Context, cmd *DepositCommand) (*CommandResult, error) {
	if ve := validateDeposit(cmd); ve != nil {
		return nil, ve
	}
	correlationID := cmd.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	release, err := s.locker.Acquire(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("获取用户锁失败: %w", err)
	}
	defer release()

	return s.apply(ctx, cmd.UserID, func(balance *model.Balance, now time.Time) (*model.TransactionRecord, model.DomainEvent, *CommandResult) {
		balanceBefore := balance.Effective()
		interestApplied := balance.Deposit(cmd.Amount, now)

		record := &model.TransactionRecord{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        cmd.UserID,
			Type:          model.TransactionTypeDeposit,
			Amount:        cmd.Amount,
			Description:   cmd.Description,
			CorrelationID: correlationID,
		}
		evt := &model.DepositProcessed{
			UserID:          cmd.UserID,
			Amount:          cmd.Amount,
			BalanceBefore:   balanceBefore,
			InterestApplied: interestApplied,
			CorrelationID:   correlationID,
			OccurredAt:      now,
		}
		result := &CommandResult{
			TransactionNo:   record.TransactionNo,
			UserID:          cmd.UserID,
			InterestApplied: interestApplied,
			CorrelationID:   correlationID,
		}
		return record, evt, result
	})
}

// HandlePayBill 处理账单支付命令
// 余额不足不是错误：不足部分转为透支，wentNegative 标记首次转负
func (s *CommandService) HandlePayBill(ctx context.Context, cmd *PayBillCommand) (*CommandResult, error) {
	if ve := validatePayBill(cmd); ve != nil {
		return nil, ve
	}
	correlationID := cmd.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	release, err := s.locker.Acquire(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("获取用户锁失败: %w", err)
	}
	defer release()

	return s.apply(ctx, cmd.UserID, func(balance *model.Balance, now time.Time) (*model.TransactionRecord, model.DomainEvent, *CommandResult) {
		balanceBefore := balance.Effective()
		wentNegative := balance.PayBill(cmd.Amount, now)

		record := &model.TransactionRecord{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        cmd.UserID,
			Type:          model.TransactionTypePayment,
			Amount:        cmd.Amount,
			Description:   cmd.Description,
			CorrelationID: correlationID,
		}
		evt := &model.BillPaid{
			UserID:        cmd.UserID,
			Amount:        cmd.Amount,
			BalanceBefore: balanceBefore,
			WentNegative:  wentNegative,
			CorrelationID: correlationID,
			OccurredAt:    now,
		}
		result := &CommandResult{
			TransactionNo: record.TransactionNo,
			UserID:        cmd.UserID,
			WentNegative:  wentNegative,
			CorrelationID: correlationID,
		}
		return record, evt, result
	})
}

// mutateFunc 在锁内对最新余额执行一次业务变更，
// 返回待落库的流水、待发布的事件和返回给调用方的结果
type mutateFunc func(balance *model.Balance, now time.Time) (*model.TransactionRecord, model.DomainEvent, *CommandResult)

// apply 命令管线的公共骨架：读最新余额 -> 变更 -> 事务提交 -> 发事件
// 乐观锁冲突时整体从最新读重试，最多 ConflictMaxRetry 次
func (s *CommandService) apply(ctx context.Context, userID string, mutate mutateFunc) (*CommandResult, error) {
	for attempt := 0; attempt < s.cfg.Business.ConflictMaxRetry; attempt++ {
		balance, err := s.balanceRepo.GetOrCreate(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("获取账户失败: %w", err)
		}

		now := time.Now()
		record, evt, result := mutate(balance, now)

		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.balanceRepo.Save(ctx, tx, balance); err != nil {
				return err
			}
			// Save 成功后版本号已递增，流水和事件携带提交后的状态
			record.BalanceAfter = balance.Effective()
			fillEvent(evt, balance)

			if err := s.transactionRepo.Append(ctx, tx, record); err != nil {
				return fmt.Errorf("记录流水失败: %w", err)
			}

			payload, err := json.Marshal(evt)
			if err != nil {
				return fmt.Errorf("事件序列化失败: %w", err)
			}
			outboxMsg := &model.OutboxMessage{
				MessageKey: userID,
				EventType:  evt.EventType(),
				Topic:      mq.TopicFor(&s.cfg.Kafka.Topic, evt.EventType()),
				Payload:    string(payload),
				Status:     model.OutboxStatusPending,
			}
			if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
				return fmt.Errorf("写入发件箱失败: %w", err)
			}
			return nil
		})

		if errors.Is(err, repository.ErrVersionConflict) {
			logger.L().Warn("余额版本冲突，重试命令",
				zap.String("user_id", userID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		result.EffectiveBalance = balance.Effective()
		result.Version = balance.Version

		// 事务已提交，同步订阅者（缓存刷新）在此执行完毕后命令才算结束
		s.bus.Publish(ctx, evt)

		logger.L().Info("命令执行成功",
			zap.String("user_id", userID),
			zap.String("transaction_no", record.TransactionNo),
			zap.String("type", record.Type),
			zap.String("balance_after", record.BalanceAfter.String()),
		)
		return result, nil
	}

	return nil, ErrTryAgain
}

// fillEvent 用提交后的聚合状态补全事件字段
func fillEvent(evt model.DomainEvent, balance *model.Balance) {
	switch e := evt.(type) {
	case *model.DepositProcessed:
		e.BalanceAfter = balance.Effective()
		e.AggregateVersion = balance.Version
	case *model.BillPaid:
		e.BalanceAfter = balance.Effective()
		e.AggregateVersion = balance.Version
	}
}
