// Package docs registers the OpenAPI description for the HTTP surface (§6.1) with
// swaggo/swag, so internal/transport/http can serve it through http-swagger's UI at
// /swagger/index.html without a generated-at-build-time step.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "memengine",
        "description": "Persistent agent-memory engine: ingestion, compression, hybrid search, and hierarchical summarization.",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "summary": "Liveness probe",
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/observe": {
            "post": {
                "summary": "Enqueue a tool call for judged ingestion",
                "responses": {"200": {"description": "queued"}, "400": {"description": "invalid request"}}
            }
        },
        "/observe/batch": {
            "post": {
                "summary": "Enqueue a batch of tool calls",
                "responses": {"200": {"description": "queued"}, "400": {"description": "invalid request"}}
            }
        },
        "/save_memory": {
            "post": {
                "summary": "Save a memory directly, bypassing the queue and judge",
                "responses": {"200": {"description": "existing"}, "201": {"description": "created"}, "422": {"description": "filtered"}}
            }
        },
        "/observations/{id}": {
            "get": {
                "summary": "Fetch one observation by id",
                "responses": {"200": {"description": "ok"}, "404": {"description": "not found"}}
            }
        },
        "/observations/batch": {
            "post": {
                "summary": "Fetch observations by id",
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/search": {
            "get": {
                "summary": "Filtered search over observations",
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/hybrid-search": {
            "get": {
                "summary": "Hybrid text+vector search",
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/semantic-search": {
            "get": {
                "summary": "Semantic search with text-only fallback",
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/timeline": {
            "get": {
                "summary": "Observations ordered by time",
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/sessions/{id}/complete": {
            "post": {
                "summary": "Synthesize and close out a session",
                "responses": {"200": {"description": "completed"}}
            }
        }
    }
}`

// SwaggerInfo holds the exported Swagger spec, registered with swag's global spec registry
// below exactly as `swag init` would generate it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "memengine API",
	Description:      "Persistent agent-memory engine HTTP surface.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
