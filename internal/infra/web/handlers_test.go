//go:build !integration

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"annotation-ml-controller/internal/domain"
	"annotation-ml-controller/internal/domain/model"
	"annotation-ml-controller/internal/usecase"
)

const testAPIKey = "test-key"

// mockJobService implements JobService with overridable func fields.
type mockJobService struct {
	submitFn       func(ctx context.Context, p usecase.SubmitParams) (string, error)
	cancelFn       func(ctx context.Context, jobID string) error
	getFn          func(ctx context.Context, jobID string) (*model.Job, []*model.Task, error)
	currentModelFn func(ctx context.Context, projectID string) (*model.ModelState, error)
}

func (m *mockJobService) SubmitJob(ctx context.Context, p usecase.SubmitParams) (string, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, p)
	}
	return "job-1", nil
}

func (m *mockJobService) CancelJob(ctx context.Context, jobID string) error {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, jobID)
	}
	return nil
}

func (m *mockJobService) GetJob(ctx context.Context, jobID string) (*model.Job, []*model.Task, error) {
	if m.getFn != nil {
		return m.getFn(ctx, jobID)
	}
	return nil, nil, domain.ErrJobNotFound
}

func (m *mockJobService) CurrentModel(ctx context.Context, projectID string) (*model.ModelState, error) {
	if m.currentModelFn != nil {
		return m.currentModelFn(ctx, projectID)
	}
	return nil, domain.ErrNotFound
}

type mockWorkerRegistry struct {
	workers []*model.Worker
}

func (m *mockWorkerRegistry) Upsert(w *model.Worker)                     {}
func (m *mockWorkerRegistry) Remove(id string)                           {}
func (m *mockWorkerRegistry) Heartbeat(id string)                        {}
func (m *mockWorkerRegistry) Eligible(capability string) []*model.Worker { return nil }
func (m *mockWorkerRegistry) IncInFlight(id string)                      {}
func (m *mockWorkerRegistry) DecInFlight(id string)                      {}
func (m *mockWorkerRegistry) Snapshot() []*model.Worker                  { return m.workers }

func newTestServer(svc JobService, reg *mockWorkerRegistry) http.Handler {
	if reg == nil {
		reg = &mockWorkerRegistry{}
	}
	log := zerolog.Nop()
	return NewServer(svc, reg, testAPIKey, &log).Routes()
}

func doRequest(h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Auth(t *testing.T) {
	h := newTestServer(&mockJobService{}, nil)

	t.Run("missing token", func(t *testing.T) {
		rec := doRequest(h, http.MethodGet, "/api/v1/workers", "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		rec := doRequest(h, http.MethodGet, "/api/v1/workers", "wrong", nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("health is open", func(t *testing.T) {
		rec := doRequest(h, http.MethodGet, "/health", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})
}

func TestServer_SubmitJob(t *testing.T) {
	t.Run("valid submission", func(t *testing.T) {
		var got usecase.SubmitParams
		svc := &mockJobService{
			submitFn: func(ctx context.Context, p usecase.SubmitParams) (string, error) {
				got = p
				return "job-42", nil
			},
		}
		h := newTestServer(svc, nil)

		rec := doRequest(h, http.MethodPost, "/api/v1/jobs", testAPIKey, map[string]any{
			"project_id":        "proj-a",
			"kind":              "inference",
			"requested_workers": 2,
			"input_refs":        []string{"a", "b"},
		})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
		}
		if got.ProjectID != "proj-a" || got.Kind != model.JobKindInference || got.Origin != model.JobOriginUser {
			t.Fatalf("unexpected params: %+v", got)
		}
		var resp map[string]string
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp["id"] != "job-42" {
			t.Fatalf("response id = %q", resp["id"])
		}
	})

	t.Run("bad kind is rejected before the use case", func(t *testing.T) {
		h := newTestServer(&mockJobService{
			submitFn: func(ctx context.Context, p usecase.SubmitParams) (string, error) {
				t.Fatal("use case must not be reached")
				return "", nil
			},
		}, nil)
		rec := doRequest(h, http.MethodPost, "/api/v1/jobs", testAPIKey, map[string]any{
			"project_id": "proj-a",
			"kind":       "evaluate",
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("auto singleton conflict maps to 409", func(t *testing.T) {
		h := newTestServer(&mockJobService{
			submitFn: func(ctx context.Context, p usecase.SubmitParams) (string, error) {
				return "", domain.ErrAutoJobAlreadyRunning
			},
		}, nil)
		rec := doRequest(h, http.MethodPost, "/api/v1/jobs", testAPIKey, map[string]any{
			"project_id": "proj-a",
			"kind":       "train",
			"origin":     "auto",
		})
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})
}

func TestServer_GetJob(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		now := time.Now()
		h := newTestServer(&mockJobService{
			getFn: func(ctx context.Context, jobID string) (*model.Job, []*model.Task, error) {
				job := &model.Job{
					ID: jobID, ProjectID: "proj-a", Kind: model.JobKindTrain,
					Origin: model.JobOriginUser, Status: model.JobStatusComplete,
					ResultRefs: []string{"artifacts/m1"}, CreatedAt: now, UpdatedAt: now,
				}
				tasks := []*model.Task{{ID: "t1", WorkerID: "w1", Status: model.TaskStatusSucceeded, Attempt: 1}}
				return job, tasks, nil
			},
		}, nil)

		rec := doRequest(h, http.MethodGet, "/api/v1/jobs/job-1", testAPIKey, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp jobResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.ID != "job-1" || resp.Status != "complete" || len(resp.Tasks) != 1 {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("not found", func(t *testing.T) {
		h := newTestServer(&mockJobService{}, nil)
		rec := doRequest(h, http.MethodGet, "/api/v1/jobs/ghost", testAPIKey, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestServer_CancelJob(t *testing.T) {
	t.Run("terminal job maps to 409", func(t *testing.T) {
		h := newTestServer(&mockJobService{
			cancelFn: func(ctx context.Context, jobID string) error { return domain.ErrJobTerminal },
		}, nil)
		rec := doRequest(h, http.MethodPost, "/api/v1/jobs/job-1/cancel", testAPIKey, nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("success", func(t *testing.T) {
		h := newTestServer(&mockJobService{}, nil)
		rec := doRequest(h, http.MethodPost, "/api/v1/jobs/job-1/cancel", testAPIKey, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})
}

func TestServer_CurrentModel(t *testing.T) {
	t.Run("no model yet", func(t *testing.T) {
		h := newTestServer(&mockJobService{}, nil)
		rec := doRequest(h, http.MethodGet, "/api/v1/projects/proj-a/model", testAPIKey, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("current pointer", func(t *testing.T) {
		h := newTestServer(&mockJobService{
			currentModelFn: func(ctx context.Context, projectID string) (*model.ModelState, error) {
				return &model.ModelState{ProjectID: projectID, Version: 7, ArtifactRef: "artifacts/m7", JobID: "job-7"}, nil
			},
		}, nil)
		rec := doRequest(h, http.MethodGet, "/api/v1/projects/proj-a/model", testAPIKey, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var resp modelResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Version != 7 || resp.ArtifactRef != "artifacts/m7" {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})
}

func TestServer_ListWorkers(t *testing.T) {
	reg := &mockWorkerRegistry{workers: []*model.Worker{
		{ID: "w1", Tags: []string{"train", "gpu"}, InFlight: 2, LastHeartbeat: time.Now()},
		{ID: "w2", Tags: []string{"inference"}, InFlight: 0, LastHeartbeat: time.Now()},
	}}
	h := newTestServer(&mockJobService{}, reg)

	rec := doRequest(h, http.MethodGet, "/api/v1/workers", testAPIKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Items []workerResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[0].ID != "w1" || resp.Items[0].InFlight != 2 {
		t.Fatalf("unexpected workers: %+v", resp.Items)
	}
}
