package main

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/actionkit/actionkit/internal/engine/catalog"
	"github.com/actionkit/actionkit/internal/engine/upload"
	"github.com/actionkit/actionkit/internal/engine/validation"
)

// createUserPayload is the validated shape of users.createUser's payload.
type createUserPayload struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
}

var nextUserID atomic.Int64

// defaultServices builds the reference catalog registered by the stock
// binary: a plain CRUD-style action, a critical before-hook, and a
// multipart upload action, covering the three action shapes the wire
// contract distinguishes (default, hook-chained, file upload).
func defaultServices() []catalog.Service {
	return []catalog.Service{
		{
			Name:        "users",
			Description: "User account management",
			Actions: []catalog.Action{
				{
					Name:        "createUser",
					Description: "Creates a new user record",
					Validation:  validation.NewStructSchema[createUserPayload](),
					Handler:     handleCreateUser,
				},
			},
		},
		{
			Name:        "demo",
			Description: "Reference actions demonstrating hook composition",
			Actions: []catalog.Action{
				{
					Name:        "protected",
					Description: "An action gated by a critical before-hook",
					Hooks: catalog.Hooks{
						Before: []catalog.HookRef{
							{Service: "hooks", Action: "failingHook", IsCritical: true},
						},
					},
					Handler: func(_ catalog.Context, payload any) (any, error) {
						return map[string]any{"reached": true, "payload": payload}, nil
					},
				},
			},
		},
		{
			Name:        "hooks",
			Description: "Hook targets referenced by other actions",
			Actions: []catalog.Action{
				{
					Name:        "failingHook",
					Description: "A before-hook that always fails, for exercising critical-hook abort semantics",
					Handler: func(_ catalog.Context, _ any) (any, error) {
						return nil, errors.New("Hook failed")
					},
				},
			},
		},
		{
			Name:        "documents",
			Description: "Document storage",
			Actions: []catalog.Action{
				{
					Name:        "uploadDoc",
					Description: "Accepts a single uploaded document",
					IsSpecial:   &catalog.IsSpecial{ContentType: "multipart/form-data", UploadMode: string(upload.ModeStructured)},
					Handler:     handleUploadDoc,
				},
			},
		},
	}
}

func handleCreateUser(_ catalog.Context, payload any) (any, error) {
	typed, ok := payload.(createUserPayload)
	if !ok {
		return nil, fmt.Errorf("users.createUser: unexpected payload type %T", payload)
	}
	id := nextUserID.Add(1)
	return map[string]any{
		"id":   fmt.Sprintf("u%d", id),
		"name": typed.Name,
	}, nil
}

func handleUploadDoc(_ catalog.Context, payload any) (any, error) {
	typed, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("documents.uploadDoc: unexpected payload type %T", payload)
	}
	files, _ := typed["files"].(map[string]any)
	return map[string]any{"files": files}, nil
}
