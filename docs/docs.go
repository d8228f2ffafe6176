// Package docs registers the OpenAPI document served at /swagger/*any.
// Regenerate with: swag init -g main.go -o docs
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
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "paths": {
        "/login": {"post": {"tags": ["auth"], "summary": "ログイン (JWT 発行)", "security": [], "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}},
        "/register": {"post": {"tags": ["auth"], "summary": "アカウント登録 (Staff は承認待ち)", "security": [], "responses": {"201": {"description": "Created"}, "409": {"description": "Conflict"}}}},
        "/accounts/{id}/approve": {"patch": {"tags": ["auth"], "summary": "Staff アカウント承認 (Admin)", "responses": {"204": {"description": "No Content"}}}},
        "/equipment": {
            "get": {"tags": ["equipment"], "summary": "備品一覧", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["equipment"], "summary": "備品登録", "responses": {"201": {"description": "Created"}}}
        },
        "/equipment/{id}": {
            "get": {"tags": ["equipment"], "summary": "備品詳細", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}},
            "patch": {"tags": ["equipment"], "summary": "備品情報更新 (数量は不可)", "responses": {"200": {"description": "OK"}}}
        },
        "/equipment/{id}/movements": {"get": {"tags": ["equipment"], "summary": "在庫増減履歴", "responses": {"200": {"description": "OK"}}}},
        "/equipment/{id}/maintenance": {"post": {"tags": ["alerts"], "summary": "点検アラート登録", "responses": {"201": {"description": "Created"}}}},
        "/requests": {
            "get": {"tags": ["requests"], "summary": "貸出依頼一覧", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["requests"], "summary": "貸出依頼", "responses": {"201": {"description": "Created"}}}
        },
        "/requests/{id}/decision": {"post": {"tags": ["requests"], "summary": "依頼の承認/却下", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict / Insufficient stock"}}}},
        "/loans": {"get": {"tags": ["loans"], "summary": "貸出記録一覧", "responses": {"200": {"description": "OK"}}}},
        "/loans/mine": {"get": {"tags": ["loans"], "summary": "自分の未返却", "responses": {"200": {"description": "OK"}}}},
        "/loans/overdue": {"get": {"tags": ["loans"], "summary": "延滞一覧", "responses": {"200": {"description": "OK"}}}},
        "/loans/{id}/collect": {"post": {"tags": ["loans"], "summary": "受け取り記録", "responses": {"200": {"description": "OK"}}}},
        "/loans/{id}/return": {"post": {"tags": ["loans"], "summary": "返却登録", "responses": {"200": {"description": "OK"}, "409": {"description": "Already closed"}}}},
        "/alerts": {"get": {"tags": ["alerts"], "summary": "アラート一覧", "responses": {"200": {"description": "OK"}}}},
        "/alerts/{id}/resolve": {"post": {"tags": ["alerts"], "summary": "アラート解決 (Admin)", "responses": {"200": {"description": "OK"}}}},
        "/suppliers": {
            "get": {"tags": ["suppliers"], "summary": "仕入先一覧", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["suppliers"], "summary": "仕入先登録", "responses": {"201": {"description": "Created"}}}
        },
        "/reports/loans.csv": {"get": {"tags": ["reports"], "summary": "貸出記録 CSV", "produces": ["text/csv"], "responses": {"200": {"description": "OK"}}}},
        "/reports/overdue.csv": {"get": {"tags": ["reports"], "summary": "延滞 CSV", "produces": ["text/csv"], "responses": {"200": {"description": "OK"}}}},
        "/reports/movements.csv": {"get": {"tags": ["reports"], "summary": "在庫増減 CSV", "produces": ["text/csv"], "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"https"},
	Title:            "laby-backend API",
	Description:      "Lab equipment inventory: requests, loans, alerts.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
