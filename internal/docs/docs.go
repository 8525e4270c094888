// Package docs registers the OpenAPI description served by the swagger UI
// at /swagger/index.html.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"Bearer": []}],
    "paths": {
        "/users": {
            "post": {"summary": "Register a user and receive a bearer token", "tags": ["users"], "security": [],
                "responses": {"201": {"description": "Created"}, "409": {"description": "user_exists"}}}
        },
        "/users/{id}": {
            "get": {"summary": "Get a user with live presence", "tags": ["users"],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "user_not_found"}}}
        },
        "/chats": {
            "get": {"summary": "List the caller's chats", "tags": ["chats"], "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}}},
            "post": {"summary": "Create a chat", "tags": ["chats"], "responses": {"201": {"description": "Created"}}}
        },
        "/chats/{id}": {
            "get": {"summary": "Get a chat", "tags": ["chats"], "responses": {"200": {"description": "OK"}, "403": {"description": "not_member"}}},
            "put": {"summary": "Update chat details (creator only)", "tags": ["chats"], "responses": {"200": {"description": "OK"}}},
            "delete": {"summary": "Delete a chat (creator only)", "tags": ["chats"], "responses": {"204": {"description": "No Content"}}}
        },
        "/chats/{id}/messages": {
            "get": {"summary": "Message history, newest first, 0-based pages", "tags": ["messages"],
                "parameters": [{"name": "page", "in": "query", "type": "integer"}, {"name": "page_size", "in": "query", "type": "integer"}],
                "responses": {"200": {"description": "OK"}, "304": {"description": "Not Modified"}}},
            "post": {"summary": "Submit a message", "tags": ["messages"],
                "parameters": [{"name": "Idempotency-Key", "in": "header", "type": "string"}],
                "responses": {"201": {"description": "Created"}, "200": {"description": "Replayed"}}}
        },
        "/messages/{id}/read": {
            "post": {"summary": "Mark a message read", "tags": ["messages"], "responses": {"204": {"description": "No Content"}}}
        },
        "/messages/{id}/reactions": {
            "post": {"summary": "Add a reaction", "tags": ["messages"], "responses": {"201": {"description": "Created"}}},
            "delete": {"summary": "Remove a reaction", "tags": ["messages"], "responses": {"204": {"description": "No Content"}}}
        },
        "/notifications": {
            "get": {"summary": "List notifications", "tags": ["notifications"], "responses": {"200": {"description": "OK"}}},
            "delete": {"summary": "Delete all notifications", "tags": ["notifications"], "responses": {"200": {"description": "OK"}}}
        },
        "/ws": {
            "get": {"summary": "Websocket upgrade; frames join, leave, typing, read", "tags": ["realtime"],
                "parameters": [{"name": "token", "in": "query", "type": "string"}],
                "responses": {"101": {"description": "Switching Protocols"}, "401": {"description": "unauthorized"}}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "go-chat-realtime API",
	Description:      "Real-time chat: membership-gated messaging, presence, read receipts, reactions and notifications.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
