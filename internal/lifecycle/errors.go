package lifecycle

import (
	stdErrors "errors"
	"fmt"

	xerrors "ZK-Intent-Fusion/internal/errors"
)

var (
	// ErrNotPresent 表示键不存在，与记录损坏区分开。
	ErrNotPresent = stdErrors.New("lifecycle record not present")
	// ErrCollision 表示同一承诺下已存在内容不同的记录。
	ErrCollision = xerrors.New(xerrors.CodeConflict, "")
)

func notFound(commitment string) error {
	return xerrors.New(xerrors.CodeNotFound,
		fmt.Sprintf("no intent for commitment %s", commitment),
		xerrors.WithMetadata("commitment", commitment))
}

func missingAuction(commitment string) error {
	return xerrors.New(xerrors.CodeNotFound,
		fmt.Sprintf("no auction result for commitment %s", commitment),
		xerrors.WithMetadata("commitment", commitment))
}

func notParsed(commitment string) error {
	return xerrors.New(xerrors.CodeNotParsed,
		fmt.Sprintf("commitment %s has no parsed intent", commitment),
		xerrors.WithMetadata("commitment", commitment),
		xerrors.WithMetadata("required_stage", string(StageParsed)))
}

func notAuctioned(commitment string) error {
	return xerrors.New(xerrors.CodeNotAuctioned,
		fmt.Sprintf("commitment %s has no auction result; run the auction first", commitment),
		xerrors.WithMetadata("commitment", commitment),
		xerrors.WithMetadata("required_stage", string(StageAuctioned)))
}

func notAuthorized(commitment string) error {
	return xerrors.New(xerrors.CodeNotAuthorized,
		fmt.Sprintf("commitment %s is not authorized; call authorize first", commitment),
		xerrors.WithMetadata("commitment", commitment),
		xerrors.WithMetadata("required_stage", string(StageAuthorized)))
}

// internal 把协作方返回的未分类错误归为内部错误，已分类的错误原样返回。
func internal(err error, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeInternal, err, message)
}
