package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"beatframe/internal/queue/handler/mocks"
	"beatframe/internal/queue/models"
	id "beatframe/pkg/domain"
	dErrors "beatframe/pkg/domain-errors"
	"beatframe/pkg/testutil"
)

type QueueHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
	limited int
}

func TestQueueHandlerSuite(t *testing.T) {
	suite.Run(t, new(QueueHandlerSuite))
}

func (s *QueueHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.limited = 0
	countingLimiter := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.limited++
			next.ServeHTTP(w, r)
		})
	}
	h := New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil)), WithSubmitLimiter(countingLimiter))
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func sampleJob(status models.Status) *models.Job {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.Job{
		ID:        id.NewJobID(),
		UserID:    "user-1",
		Engine:    "comfyui",
		Workflow:  "txt2vid",
		Params:    json.RawMessage(`{"seed":7}`),
		Status:    status,
		CreatedAt: created,
	}
}

func (s *QueueHandlerSuite) TestSubmit() {
	s.Run("accepts and normalizes the engine name", func() {
		job := sampleJob(models.StatusQueued)
		s.service.EXPECT().
			Enqueue(gomock.Any(), id.UserID("user-1"), "comfyui", "txt2vid", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ id.UserID, _, _ string, params json.RawMessage) (*models.Job, error) {
				s.JSONEq(`{"seed":7}`, string(params))
				return job, nil
			})

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/workflows", map[string]any{
			"engine":   " ComfyUI ",
			"workflow": "txt2vid",
			"params":   map[string]any{"seed": 7},
		})
		rr := testutil.DoRequest(s.router, testutil.WithUserID(req, "user-1"))

		testutil.AssertStatus(s.T(), rr, http.StatusAccepted)
		s.Equal("/api/workflows/"+job.ID.String(), rr.Header().Get("Location"))
		resp := testutil.UnmarshalResponse[models.JobResponse](s.T(), rr)
		s.Equal(job.ID.String(), resp.ID)
		s.Equal(models.StatusQueued, resp.Status)
		s.Equal(1, s.limited)
	})

	s.Run("full queue is rate limited", func() {
		s.service.EXPECT().Enqueue(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeRateLimited, "queue is full, try again later"))

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/workflows", map[string]any{"engine": "comfyui"})
		rr := testutil.DoRequest(s.router, testutil.WithUserID(req, "user-1"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusTooManyRequests, "rate_limited")
	})

	s.Run("malformed body", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/api/workflows", `{"engine":`)
		rr := testutil.DoRequest(s.router, testutil.WithUserID(req, "user-1"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("non json content type", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/api/workflows", `engine=comfyui`)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := testutil.DoRequest(s.router, testutil.WithUserID(req, "user-1"))
		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})

	s.Run("missing auth context", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/workflows", map[string]any{"engine": "comfyui"})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, "internal_error")
	})
}

func (s *QueueHandlerSuite) TestGet() {
	s.Run("returns the job", func() {
		job := sampleJob(models.StatusSucceeded)
		job.Output = map[string]any{"video": "https://cdn.example/v.mp4"}
		s.service.EXPECT().Get(gomock.Any(), id.UserID("user-1"), job.ID).Return(job, nil)

		req := testutil.NewRequest(s.T(), http.MethodGet, "/api/workflows/"+job.ID.String())
		rr := testutil.DoRequest(s.router, testutil.WithUserID(req, "user-1"))

		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[models.JobResponse](s.T(), rr)
		s.Equal("https://cdn.example/v.mp4", resp.Output["video"])
	})

	s.Run("invalid id", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/api/workflows/not-a-uuid")
		rr := testutil.DoRequest(s.router, testutil.WithUserID(req, "user-1"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("unknown job", func() {
		s.service.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "job not found"))

		req := testutil.NewRequest(s.T(), http.MethodGet, "/api/workflows/"+id.NewJobID().String())
		rr := testutil.DoRequest(s.router, testutil.WithUserID(req, "user-1"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
}

func (s *QueueHandlerSuite) TestList() {
	s.service.EXPECT().List(gomock.Any(), id.UserID("user-1")).
		Return([]*models.Job{sampleJob(models.StatusQueued), sampleJob(models.StatusRunning)}, nil)

	req := testutil.NewRequest(s.T(), http.MethodGet, "/api/workflows")
	rr := testutil.DoRequest(s.router, testutil.WithUserID(req, "user-1"))

	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[models.JobListResponse](s.T(), rr)
	s.Equal(2, resp.Total)
	s.Len(resp.Jobs, 2)
}

func (s *QueueHandlerSuite) TestCancel() {
	s.Run("cancels a queued job", func() {
		job := sampleJob(models.StatusCanceled)
		s.service.EXPECT().Cancel(gomock.Any(), id.UserID("user-1"), job.ID).Return(job, nil)

		req := testutil.NewRequest(s.T(), http.MethodDelete, "/api/workflows/"+job.ID.String())
		rr := testutil.DoRequest(s.router, testutil.WithUserID(req, "user-1"))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "status", "canceled")
	})

	s.Run("running job conflicts", func() {
		s.service.EXPECT().Cancel(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "running jobs cannot be cancelled"))

		req := testutil.NewRequest(s.T(), http.MethodDelete, "/api/workflows/"+id.NewJobID().String())
		rr := testutil.DoRequest(s.router, testutil.WithUserID(req, "user-1"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
	})
}

func (s *QueueHandlerSuite) TestEngines() {
	s.service.EXPECT().Depth(gomock.Any()).Return(3, nil)
	s.service.EXPECT().Engines().Return([]string{"comfyui", "runpod", "stability"})
	s.service.EXPECT().EngineHealth(gomock.Any()).Return([]models.EngineHealth{
		{Name: "comfyui", Healthy: true},
		{Name: "runpod", Error: "engine runpod [authentication]: status 401: unauthorized"},
		{Name: "stability", Healthy: true},
	})

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/api/engines"))

	testutil.AssertStatusOK(s.T(), rr)
	resp := testutil.UnmarshalResponse[models.EnginesResponse](s.T(), rr)
	s.Equal(3, resp.QueueDepth)
	s.Equal([]string{"comfyui", "runpod", "stability"}, resp.Engines)
	s.Require().Len(resp.Health, 3)
	s.False(resp.Health[1].Healthy)
	s.Contains(resp.Health[1].Error, "401")
}
