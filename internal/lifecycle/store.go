package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"

	"ZK-Intent-Fusion/internal/auction"
	xerrors "ZK-Intent-Fusion/internal/errors"
	"ZK-Intent-Fusion/internal/intent"
)

// RecordKind 区分四类生命周期记录，各自拥有独立的键空间。
type RecordKind string

const (
	KindIntent        RecordKind = "intent"
	KindAuction       RecordKind = "auction"
	KindAuthorization RecordKind = "auth"
	KindExecution     RecordKind = "exec"
)

// Store 是按承诺索引的生命周期状态存储。同一 (kind, commitment) 只能写入一次，
// 重复写入相同内容视为幂等，内容不同则返回 ErrCollision。
type Store interface {
	PutIntent(ctx context.Context, in *intent.Intent) error
	GetIntent(ctx context.Context, commitment string) (*intent.Intent, error)
	PutAuction(ctx context.Context, res *auction.Result) error
	GetAuction(ctx context.Context, commitment string) (*auction.Result, error)
	PutAuthorization(ctx context.Context, auth *Authorization) error
	GetAuthorization(ctx context.Context, commitment string) (*Authorization, error)
	PutExecution(ctx context.Context, log *ExecutionLog) error
	GetExecution(ctx context.Context, commitment string) (*ExecutionLog, error)
	ListIntents(ctx context.Context, limit int) ([]*intent.Intent, error)
	Clear(ctx context.Context) error
	Close() error
}

// Backend 是记录的字节级存储。PutOnce 必须对单个键线性一致。
type Backend interface {
	PutOnce(ctx context.Context, kind RecordKind, commitment string, payload []byte) error
	Get(ctx context.Context, kind RecordKind, commitment string) ([]byte, error)
	List(ctx context.Context, kind RecordKind, limit int) ([][]byte, error)
	Clear(ctx context.Context) error
	Close() error
}

// RecordStore 在 Backend 之上提供类型化的 Store 实现。
type RecordStore struct {
	backend Backend
}

// NewRecordStore 包装任意 Backend。
func NewRecordStore(backend Backend) *RecordStore {
	return &RecordStore{backend: backend}
}

var _ Store = (*RecordStore)(nil)

// PutIntent 写入意图。
func (s *RecordStore) PutIntent(ctx context.Context, in *intent.Intent) error {
	if in == nil {
		return xerrors.New(xerrors.CodeValidation, "intent is required")
	}
	return s.put(ctx, KindIntent, in.Commitment, in)
}

// GetIntent 读取意图。
func (s *RecordStore) GetIntent(ctx context.Context, commitment string) (*intent.Intent, error) {
	var in intent.Intent
	if err := s.get(ctx, KindIntent, commitment, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// PutAuction 写入拍卖结果。
func (s *RecordStore) PutAuction(ctx context.Context, res *auction.Result) error {
	if res == nil {
		return xerrors.New(xerrors.CodeValidation, "auction result is required")
	}
	if err := winnerAdmissible(res); err != nil {
		return err
	}
	if err := s.requireStage(ctx, KindIntent, res.Commitment); err != nil {
		return err
	}
	return s.put(ctx, KindAuction, res.Commitment, res)
}

// GetAuction 读取拍卖结果。
func (s *RecordStore) GetAuction(ctx context.Context, commitment string) (*auction.Result, error) {
	var res auction.Result
	if err := s.get(ctx, KindAuction, commitment, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PutAuthorization 写入授权记录。
func (s *RecordStore) PutAuthorization(ctx context.Context, auth *Authorization) error {
	if auth == nil {
		return xerrors.New(xerrors.CodeValidation, "authorization is required")
	}
	if err := s.requireStage(ctx, KindAuction, auth.Commitment); err != nil {
		return err
	}
	return s.put(ctx, KindAuthorization, auth.Commitment, auth)
}

// GetAuthorization 读取授权记录。
func (s *RecordStore) GetAuthorization(ctx context.Context, commitment string) (*Authorization, error) {
	var auth Authorization
	if err := s.get(ctx, KindAuthorization, commitment, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

// PutExecution 写入执行记录。
func (s *RecordStore) PutExecution(ctx context.Context, log *ExecutionLog) error {
	if log == nil {
		return xerrors.New(xerrors.CodeValidation, "execution log is required")
	}
	if err := s.requireStage(ctx, KindAuthorization, log.Commitment); err != nil {
		return err
	}
	return s.put(ctx, KindExecution, log.Commitment, log)
}

// GetExecution 读取执行记录。
func (s *RecordStore) GetExecution(ctx context.Context, commitment string) (*ExecutionLog, error) {
	var log ExecutionLog
	if err := s.get(ctx, KindExecution, commitment, &log); err != nil {
		return nil, err
	}
	return &log, nil
}

// ListIntents 按写入时间倒序返回意图。
func (s *RecordStore) ListIntents(ctx context.Context, limit int) ([]*intent.Intent, error) {
	if limit <= 0 {
		limit = 20
	}
	payloads, err := s.backend.List(ctx, KindIntent, limit)
	if err != nil {
		return nil, storageErr(err, "list intents")
	}
	out := make([]*intent.Intent, 0, len(payloads))
	for _, payload := range payloads {
		var in intent.Intent
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode intent record")
		}
		out = append(out, &in)
	}
	return out, nil
}

// Clear 清空全部记录，仅供管理与测试使用。
func (s *RecordStore) Clear(ctx context.Context) error {
	if err := s.backend.Clear(ctx); err != nil {
		return storageErr(err, "clear lifecycle records")
	}
	return nil
}

// Close 释放底层连接。
func (s *RecordStore) Close() error {
	return s.backend.Close()
}

func (s *RecordStore) put(ctx context.Context, kind RecordKind, commitment string, v any) error {
	if commitment == "" {
		return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("%s record has no commitment", kind))
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInternal, err, fmt.Sprintf("encode %s record", kind))
	}
	if err := s.backend.PutOnce(ctx, kind, commitment, payload); err != nil {
		if stdErrors.Is(err, ErrCollision) {
			return xerrors.Wrap(xerrors.CodeConflict, err,
				fmt.Sprintf("%s record for %s differs from the stored one", kind, commitment),
				xerrors.WithMetadata("commitment", commitment),
				xerrors.WithMetadata("kind", string(kind)))
		}
		return storageErr(err, fmt.Sprintf("write %s record", kind))
	}
	return nil
}

// requireStage 确认前一阶段的记录已经存在，阶段只能按顺序推进。
func (s *RecordStore) requireStage(ctx context.Context, kind RecordKind, commitment string) error {
	if commitment == "" {
		return nil // put 负责拒绝空承诺
	}
	if _, err := s.backend.Get(ctx, kind, commitment); err != nil {
		if !stdErrors.Is(err, ErrNotPresent) {
			return storageErr(err, fmt.Sprintf("read %s record", kind))
		}
		switch kind {
		case KindIntent:
			return notParsed(commitment)
		case KindAuction:
			return notAuctioned(commitment)
		default:
			return notAuthorized(commitment)
		}
	}
	return nil
}

// winnerAdmissible 要求胜出者是一份通过验证的报价。
func winnerAdmissible(res *auction.Result) error {
	for i, bid := range res.Bids {
		if bid.Solver != res.Winner.Solver || bid.Proof != res.Winner.Proof {
			continue
		}
		if bid.Valid && i < len(res.Decisions) && res.Decisions[i].Admissible {
			return nil
		}
	}
	return xerrors.New(xerrors.CodeValidation,
		fmt.Sprintf("auction winner %s is not an admissible bid", res.Winner.Solver),
		xerrors.WithMetadata("commitment", res.Commitment))
}

func (s *RecordStore) get(ctx context.Context, kind RecordKind, commitment string, out any) error {
	payload, err := s.backend.Get(ctx, kind, commitment)
	if err != nil {
		if stdErrors.Is(err, ErrNotPresent) {
			return ErrNotPresent
		}
		return storageErr(err, fmt.Sprintf("read %s record", kind))
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("decode %s record", kind),
			xerrors.WithMetadata("commitment", commitment))
	}
	return nil
}

// samePayload 判断两个编码后的记录是否一致。
func samePayload(a, b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
}

func storageErr(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message)
}
