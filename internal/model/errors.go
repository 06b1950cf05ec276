package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: network, storage, validation, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因エラー（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeNetworkFailure  = "NETWORK_FAILURE"
	ErrCodeDecodeFailure   = "DECODE_FAILURE"
	ErrCodeStorageFailure  = "STORAGE_FAILURE"
	ErrCodeArticleNotFound = "ARTICLE_NOT_FOUND"
	ErrCodeInvalidQuery    = "INVALID_QUERY"
	ErrCodeInvalidEvent    = "INVALID_EVENT"
)

// NewNetworkFailureError は通信失敗エラーを生成する。
// 接続失敗、タイムアウト、2xx以外のレスポンスが該当する。
func NewNetworkFailureError(reason string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeNetworkFailure,
		Message:  fmt.Sprintf("サーバーとの通信に失敗しました: %s", reason),
		Category: "network",
		Action:   "ネットワーク接続を確認し、再読み込みしてください。",
		Err:      cause,
	}
}

// NewDecodeFailureError はレスポンスの解析失敗エラーを生成する。
func NewDecodeFailureError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeDecodeFailure,
		Message:  "サーバーからの応答を解析できませんでした。",
		Category: "network",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      cause,
	}
}

// NewStorageFailureError はローカルキャッシュの操作失敗エラーを生成する。
func NewStorageFailureError(op string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStorageFailure,
		Message:  fmt.Sprintf("ローカルキャッシュの%sに失敗しました。", op),
		Category: "storage",
		Action:   "アプリを再起動するか、キャッシュを削除してください。",
		Err:      cause,
	}
}

// NewArticleNotFoundError は記事未検出エラーを生成する。
func NewArticleNotFoundError(articleID string) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", articleID),
		Category: "validation",
		Action:   "記事IDを確認してください。",
	}
}

// NewInvalidQueryError は無効な検索条件エラーを生成する。
func NewInvalidQueryError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  fmt.Sprintf("無効な検索条件です: %s", reason),
		Category: "validation",
		Action:   "検索条件を確認してください。",
	}
}

// NewInvalidEventError は無効なイベントエラーを生成する。
func NewInvalidEventError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEvent,
		Message:  fmt.Sprintf("無効なイベントです: %s", reason),
		Category: "validation",
		Action:   "イベントの種類と引数を確認してください。",
	}
}

// CodeOf はエラーに含まれるAPIErrorのコードを返す。APIErrorでない場合は空文字列。
func CodeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsNetworkFailure はエラーが通信失敗かどうかを返す。
func IsNetworkFailure(err error) bool {
	return CodeOf(err) == ErrCodeNetworkFailure
}

// IsStorageFailure はエラーがローカルキャッシュの失敗かどうかを返す。
func IsStorageFailure(err error) bool {
	return CodeOf(err) == ErrCodeStorageFailure
}

// MessageOf はUIに表示するメッセージを返す。
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
