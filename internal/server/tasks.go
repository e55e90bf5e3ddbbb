package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"anagami/internal/domain"
	"anagami/internal/engine"
	"anagami/internal/engine/auth"
	"anagami/internal/repo"
)

type taskPath struct {
	ID string `path:"id"`
}

type taskOutput struct {
	Body TaskResponse `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			Module:    input.Body.Module,
			Language:  input.Body.Language,
			InputText: input.Body.InputText,
			Company:   input.Body.Company,
			Industry:  input.Body.Industry,
			Budget:    input.Body.Budget,
			Timeline:  input.Body.Timeline,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: taskResponse(t, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		Module    string `query:"module"`
		Status    string `query:"status" enum:"draft,reviewed,approved"`
		CreatedBy string `query:"created_by"`
		Limit     int    `query:"limit" minimum:"0" maximum:"200"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		if err := requireRole(ctx, auth.RoleViewer); err != nil {
			return nil, err
		}
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			Module:    input.Module,
			Status:    input.Status,
			CreatedBy: input.CreatedBy,
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Task{}
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task with sections",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		if err := requireRole(ctx, auth.RoleViewer); err != nil {
			return nil, err
		}
		t, sections, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: taskResponse(t, sections)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/generate",
		Summary:     "Generate section drafts",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, sections, err := e.GenerateTask(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: taskResponse(t, sections)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-task-sections",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/sections",
		Summary:     "Save human-edited sections",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body SaveSectionsRequest `json:"body"`
	}) (*taskOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		finals := make([]engine.SectionFinal, 0, len(input.Body.Sections))
		for _, s := range input.Body.Sections {
			finals = append(finals, engine.SectionFinal{SectionType: s.SectionType, ContentFinal: s.ContentFinal})
		}
		sections, err := e.SaveFinal(ctx, input.ID, finals, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: taskResponse(t, sections)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/approve",
		Summary:     "Approve task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Approve(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		sections, err := e.Repo.ListSections(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: taskResponse(t, sections)}, nil
	})
}
