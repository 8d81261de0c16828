package gateway

import (
	"errors"
	"fmt"
)

type Stage string

const (
	StageImage  Stage = "image"
	StageText   Stage = "text"
	StageSpeech Stage = "speech"
)

// GenerationError はバックエンド呼び出しの失敗です（ネットワーク、クォータ、不正な応答など）。
type GenerationError struct {
	Stage Stage
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at %s stage: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// MalformedResponseError は抽出を全部試しても JSON にできなかった応答です。
// 呼び出し側からは StageText の GenerationError と同じに扱えます。
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// StageOf はエラーが生成失敗であればその段階を返します。
func StageOf(err error) (Stage, bool) {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Stage, true
	}
	var me *MalformedResponseError
	if errors.As(err, &me) {
		return StageText, true
	}
	return "", false
}

func wrap(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return err
	}
	return &GenerationError{Stage: stage, Err: err}
}
