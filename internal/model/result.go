package model

// ResultStatus はResultの種別。
type ResultStatus int

const (
	// ResultLoading は処理中を表す。
	ResultLoading ResultStatus = iota
	// ResultSuccess は値の取得成功を表す。
	ResultSuccess
	// ResultError は利用可能なデータを得られなかったことを表す。
	ResultError
)

// String はステータスの文字列表現を返す。
func (s ResultStatus) String() string {
	switch s {
	case ResultLoading:
		return "loading"
	case ResultSuccess:
		return "success"
	case ResultError:
		return "error"
	default:
		return "unknown"
	}
}

// Unit は値を持たない成功結果に使う型。
type Unit struct{}

// Result はクエリストリームが送出する統一結果型。
// ストリームはLoadingを最初に1回だけ送出し、続いて0回以上のSuccess、
// データを全く得られなかった場合に限りErrorで終わる。
type Result[T any] struct {
	Status  ResultStatus
	Value   T
	Err     error
	Message string
}

// Loading はLoading結果を生成する。
func Loading[T any]() Result[T] {
	return Result[T]{Status: ResultLoading}
}

// Success はSuccess結果を生成する。
func Success[T any](v T) Result[T] {
	return Result[T]{Status: ResultSuccess, Value: v}
}

// Failure はError結果を生成する。メッセージはerrから導出する。
func Failure[T any](err error) Result[T] {
	return Result[T]{Status: ResultError, Err: err, Message: MessageOf(err)}
}

// IsLoading はLoadingかどうかを返す。
func (r Result[T]) IsLoading() bool { return r.Status == ResultLoading }

// IsSuccess はSuccessかどうかを返す。
func (r Result[T]) IsSuccess() bool { return r.Status == ResultSuccess }

// IsError はErrorかどうかを返す。
func (r Result[T]) IsError() bool { return r.Status == ResultError }
