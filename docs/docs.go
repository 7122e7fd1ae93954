// Package docs Agent 接口的 swagger 文档，与 controller 中的注释保持一致，可用 swag init 重新生成
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "description": "检查服务状态",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "系统"
                ],
                "summary": "健康检查",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/util.Response"
                        }
                    }
                }
            }
        },
        "/agent/initialize": {
            "post": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "为当前用户创建并启动 AI Agent，已存在时返回当前会话",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Agent"
                ],
                "summary": "初始化 Agent",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "allOf": [
                                {
                                    "$ref": "#/definitions/util.Response"
                                },
                                {
                                    "type": "object",
                                    "properties": {
                                        "data": {
                                            "$ref": "#/definitions/service.AgentSessionSummary"
                                        }
                                    }
                                }
                            ]
                        }
                    },
                    "422": {
                        "description": "角色没有对应的 Agent",
                        "schema": {
                            "$ref": "#/definitions/util.Response"
                        }
                    }
                }
            }
        },
        "/agent/action": {
            "post": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "由用户的 Agent 处理行为，处理失败时 data.type 为 error",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Agent"
                ],
                "summary": "提交用户行为",
                "parameters": [
                    {
                        "description": "用户行为",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/model.AgentAction"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "allOf": [
                                {
                                    "$ref": "#/definitions/util.Response"
                                },
                                {
                                    "type": "object",
                                    "properties": {
                                        "data": {
                                            "$ref": "#/definitions/model.AgentResponse"
                                        }
                                    }
                                }
                            ]
                        }
                    }
                }
            }
        },
        "/agent/status": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Agent"
                ],
                "summary": "Agent 状态",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "allOf": [
                                {
                                    "$ref": "#/definitions/util.Response"
                                },
                                {
                                    "type": "object",
                                    "properties": {
                                        "data": {
                                            "$ref": "#/definitions/service.AgentSessionSummary"
                                        }
                                    }
                                }
                            ]
                        }
                    },
                    "404": {
                        "description": "Agent 不存在",
                        "schema": {
                            "$ref": "#/definitions/util.Response"
                        }
                    }
                }
            }
        },
        "/agent/shutdown": {
            "post": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Agent"
                ],
                "summary": "关闭 Agent",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/util.Response"
                        }
                    },
                    "404": {
                        "description": "Agent 不存在",
                        "schema": {
                            "$ref": "#/definitions/util.Response"
                        }
                    }
                }
            }
        },
        "/agent/recommendations": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "默认为当前用户生成推荐，ai=true 时使用大模型生成（失败自动回退）",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Agent"
                ],
                "summary": "学习推荐",
                "parameters": [
                    {
                        "type": "integer",
                        "description": "学生ID",
                        "name": "student_id",
                        "in": "query"
                    },
                    {
                        "type": "string",
                        "description": "学习场景",
                        "name": "context_type",
                        "in": "query"
                    },
                    {
                        "type": "boolean",
                        "description": "是否使用大模型",
                        "name": "ai",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "allOf": [
                                {
                                    "$ref": "#/definitions/util.Response"
                                },
                                {
                                    "type": "object",
                                    "properties": {
                                        "data": {
                                            "$ref": "#/definitions/util.ListResponse"
                                        }
                                    }
                                }
                            ]
                        }
                    }
                }
            }
        },
        "/agent/bulk": {
            "post": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Agent"
                ],
                "summary": "批量提交行为",
                "parameters": [
                    {
                        "description": "批量行为",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/controller.BulkActionRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "allOf": [
                                {
                                    "$ref": "#/definitions/util.Response"
                                },
                                {
                                    "type": "object",
                                    "properties": {
                                        "data": {
                                            "$ref": "#/definitions/util.ListResponse"
                                        }
                                    }
                                }
                            ]
                        }
                    }
                }
            }
        },
        "/agent/notifications/ws": {
            "get": {
                "security": [
                    {
                        "ApiKeyAuth": []
                    }
                ],
                "description": "建立 WebSocket 连接以接收跨角色通知",
                "tags": [
                    "Agent"
                ],
                "summary": "通知 WebSocket",
                "parameters": [
                    {
                        "type": "string",
                        "description": "JWT Token",
                        "name": "token",
                        "in": "query",
                        "required": true
                    }
                ],
                "responses": {
                    "101": {
                        "description": "Switching Protocols",
                        "schema": {
                            "type": "string"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "controller.BulkActionRequest": {
            "type": "object",
            "required": [
                "items"
            ],
            "properties": {
                "items": {
                    "type": "array",
                    "minItems": 1,
                    "items": {
                        "$ref": "#/definitions/service.BulkAction"
                    }
                }
            }
        },
        "model.AgentAction": {
            "type": "object",
            "required": [
                "type"
            ],
            "properties": {
                "type": {
                    "type": "string"
                },
                "data": {
                    "type": "object",
                    "additionalProperties": true
                },
                "context": {
                    "type": "object",
                    "additionalProperties": true
                },
                "timestamp": {
                    "type": "string"
                }
            }
        },
        "model.AgentError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                }
            }
        },
        "model.AgentResponse": {
            "type": "object",
            "properties": {
                "type": {
                    "type": "string"
                },
                "content": {
                    "type": "string"
                },
                "data": {
                    "type": "object",
                    "additionalProperties": true
                },
                "recommendations": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/model.Recommendation"
                    }
                },
                "error": {
                    "$ref": "#/definitions/model.AgentError"
                }
            }
        },
        "model.Recommendation": {
            "type": "object",
            "properties": {
                "type": {
                    "type": "string"
                },
                "title": {
                    "type": "string"
                },
                "description": {
                    "type": "string"
                },
                "priority": {
                    "type": "integer"
                },
                "knowledgePointIds": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "estimatedMinutes": {
                    "type": "integer"
                },
                "payload": {
                    "type": "object",
                    "additionalProperties": true
                }
            }
        },
        "model.SessionContext": {
            "type": "object",
            "properties": {
                "sessionType": {
                    "type": "string"
                },
                "contextType": {
                    "type": "string"
                },
                "focusLevel": {
                    "type": "number"
                },
                "lastActivity": {
                    "type": "string"
                },
                "actionCount": {
                    "type": "integer"
                },
                "lastActionType": {
                    "type": "string"
                }
            }
        },
        "service.AgentSessionSummary": {
            "type": "object",
            "properties": {
                "userId": {
                    "type": "integer"
                },
                "role": {
                    "type": "string"
                },
                "sessionId": {
                    "type": "string"
                },
                "state": {
                    "type": "string"
                },
                "startTime": {
                    "type": "string"
                },
                "lastActive": {
                    "type": "string"
                },
                "context": {
                    "$ref": "#/definitions/model.SessionContext"
                },
                "created": {
                    "type": "boolean"
                },
                "startup": {
                    "type": "object",
                    "additionalProperties": true
                }
            }
        },
        "service.BulkAction": {
            "type": "object",
            "required": [
                "action",
                "userId"
            ],
            "properties": {
                "userId": {
                    "type": "integer"
                },
                "action": {
                    "$ref": "#/definitions/model.AgentAction"
                }
            }
        },
        "service.BulkResult": {
            "type": "object",
            "properties": {
                "userId": {
                    "type": "integer"
                },
                "response": {
                    "$ref": "#/definitions/model.AgentResponse"
                }
            }
        },
        "util.ListResponse": {
            "type": "object",
            "properties": {
                "list": {},
                "total": {
                    "type": "integer"
                }
            }
        },
        "util.Response": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "integer"
                },
                "message": {
                    "type": "string"
                },
                "data": {}
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "K12 AI Agent 后端 API",
	Description:      "K12 学习平台的 AI Agent 协调服务。",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
