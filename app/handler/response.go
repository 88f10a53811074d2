package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ApiResponse 统一响应结构
type ApiResponse struct {
	Code    int    `json:"code"`    // 状态码，0表示成功
	Message string `json:"message"` // 响应消息
	Data    any    `json:"data"`    // 响应数据
}

// success 返回 200 与数据
func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, ApiResponse{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// fail HTTP 状态码同时作为业务错误码
func fail(c *gin.Context, status int, message string) {
	c.JSON(status, ApiResponse{
		Code:    status,
		Message: message,
		Data:    nil,
	})
}
