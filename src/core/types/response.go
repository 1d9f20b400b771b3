package types

const defaultSuccessMessage = "操作成功"

// ApiResponse 统一接口响应
type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Ok 成功响应，message 为空时使用默认提示
func Ok(data interface{}, message string) ApiResponse {
	if message == "" {
		message = defaultSuccessMessage
	}
	return ApiResponse{Success: true, Data: data, Message: message}
}

// Fail 失败响应
func Fail(code, errMsg string) ApiResponse {
	return ApiResponse{Success: false, Error: errMsg, Code: code}
}
