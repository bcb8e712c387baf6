package protocol

// 错误码定义
const (
	// 通用错误
	ErrCodeSuccess        = 0 // 成功
	ErrCodeInternalError  = 1 // 内部错误
	ErrCodeInvalidRequest = 2 // 无效请求
	ErrCodeUnknownType    = 3 // 未知消息类型

	// 认证相关 (1xxx)
	ErrCodeAuthFailed   = 1001 // 认证失败
	ErrCodeTokenExpired = 1002 // Token 过期
	ErrCodeAuthRequired = 1003 // 未认证

	// 服务状态相关 (5xxx)
	ErrCodeServiceOverloaded = 5003 // 通道数已达上限
	ErrCodeShuttingDown      = 5004 // 服务关闭中
)

// ErrCodeMessage 错误码对应的消息
var ErrCodeMessage = map[int]string{
	ErrCodeSuccess:           "success",
	ErrCodeInternalError:     "internal_error",
	ErrCodeInvalidRequest:    "invalid_request",
	ErrCodeUnknownType:       "unknown_type",
	ErrCodeAuthFailed:        "auth_failed",
	ErrCodeTokenExpired:      "token_expired",
	ErrCodeAuthRequired:      "auth_required",
	ErrCodeServiceOverloaded: "service_overloaded",
	ErrCodeShuttingDown:      "shutting_down",
}

// NewError 按错误码构造错误消息体，message 为空时使用默认描述
func NewError(code int, message string) *ErrorBody {
	if message == "" {
		message = ErrCodeMessage[code]
	}
	return &ErrorBody{Code: code, Message: message}
}
